package call

import "log"

// createLocalTracks captures local audio (always) and video (for video
// calls). Capture failure never aborts the call: the session proceeds
// without the failed track and can still receive remote media.
func (m *Manager) createLocalTracks(s *Session) {
	if s.localAudio != nil || s.localVideo != nil {
		return
	}
	if m.capture == nil || !m.capture.Available() {
		log.Printf("CALL [%s]: no capture backend, proceeding receive-only", s.id)
		return
	}

	audio, err := m.capture.OpenAudio()
	if err != nil {
		log.Printf("CALL [%s]: open microphone: %v", s.id, err)
	} else {
		s.localAudio = &boundTrack{track: audio, enabled: true}
	}

	if !s.video {
		return
	}
	video, device, err := m.capture.OpenVideo(m.profile)
	if err != nil {
		log.Printf("CALL [%s]: open camera: %v", s.id, err)
		return
	}
	s.localVideo = &boundTrack{track: video, enabled: true}
	s.cameraDevice = device
	m.watchCameraEnd(s, video, device)
}

// watchCameraEnd hooks the video track's end-of-stream callback so a
// camera grabbed by another process triggers recovery.
func (m *Manager) watchCameraEnd(s *Session, video LocalTrack, device string) {
	video.OnEnded(func(err error) {
		if err != nil {
			log.Printf("CALL [%s]: camera track ended: %v", s.id, err)
		}
		m.do(func() { m.onCameraClosed(s, device) })
	})
}

// attachLocalTracks binds captured tracks to the transport. With no local
// media at all the transport still needs receive-only transceivers so the
// SDP carries valid m-lines with ICE credentials.
func (m *Manager) attachLocalTracks(s *Session) {
	attached := 0
	if s.localAudio != nil {
		sender, err := s.transport.AddTrack(s.localAudio.track)
		if err != nil {
			log.Printf("CALL [%s]: add audio track: %v", s.id, err)
		} else {
			s.localAudio.sender = sender
			attached++
		}
	}
	if s.localVideo != nil {
		sender, err := s.transport.AddTrack(s.localVideo.track)
		if err != nil {
			log.Printf("CALL [%s]: add video track: %v", s.id, err)
		} else {
			s.localVideo.sender = sender
			attached++
		}
	}
	if attached == 0 {
		if err := s.transport.AddRecvOnlyTransceivers(s.video); err != nil {
			log.Printf("CALL [%s]: add recvonly transceivers: %v", s.id, err)
		}
	}
}

// onCameraClosed marks capture as broken and subscribes for the device
// coming back. At most one subscription exists per session.
func (m *Manager) onCameraClosed(s *Session, device string) {
	if m.current != s || s.released {
		return
	}
	log.Printf("CALL [%s]: camera %s lost", s.id, device)
	m.setCaptureError(true)
	if m.hw == nil || device == "" || s.cancelCameraWatch != nil {
		return
	}
	callID := s.id
	cancel, err := m.hw.Subscribe(device, func(dev string) {
		m.do(func() { m.onCameraAvailable(callID, dev) })
	})
	if err != nil {
		log.Printf("CALL [%s]: watch camera %s: %v", s.id, device, err)
		return
	}
	s.cancelCameraWatch = cancel
}

// onCameraAvailable restarts video capture after the device came back. The
// call ID guard makes a late availability event for an ended call a no-op.
func (m *Manager) onCameraAvailable(callID, device string) {
	s := m.current
	if s == nil || s.id != callID || s.released {
		log.Printf("CALL [%s]: camera %s available but call is gone", callID, device)
		return
	}
	track, dev, err := m.capture.OpenVideo(m.profile)
	if err != nil {
		// Keep the subscription. The reopen fails while another process
		// still holds the device node; a later create event retries.
		log.Printf("CALL [%s]: reopen camera %s: %v", s.id, device, err)
		return
	}

	if s.cancelCameraWatch != nil {
		s.cancelCameraWatch()
		s.cancelCameraWatch = nil
	}

	old := s.localVideo
	s.localVideo = &boundTrack{track: track, enabled: true}
	s.cameraDevice = dev
	if old != nil {
		// The old track already ended; silence its end hook before closing
		// so the close does not read as another camera loss.
		old.track.OnEnded(func(error) {})
		if old.sender != nil {
			s.localVideo.sender = old.sender
			if err := old.sender.ReplaceTrack(track.Track()); err != nil {
				log.Printf("CALL [%s]: swap camera track: %v", s.id, err)
			}
		}
		_ = old.track.Close()
	} else if s.transport != nil {
		sender, err := s.transport.AddTrack(track)
		if err != nil {
			log.Printf("CALL [%s]: add recovered camera track: %v", s.id, err)
		} else {
			s.localVideo.sender = sender
		}
	}
	m.watchCameraEnd(s, track, dev)
	m.setCaptureError(false)
	log.Printf("CALL [%s]: camera %s recovered", s.id, dev)
}
