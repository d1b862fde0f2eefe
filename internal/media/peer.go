package media

import (
	"fmt"
	"sync"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
)

// PeerConnection is the subset of a WebRTC peer connection the call flow drives.
type PeerConnection interface {
	AddTrack(track webrtc.TrackLocal) error
	RemoveTrack(trackID string) error
	// SenderTrackIDs lists the IDs of the local tracks currently being sent.
	SenderTrackIDs() []string

	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(sd webrtc.SessionDescription) error
	SetRemoteDescription(sd webrtc.SessionDescription) error
	RemoteDescription() *webrtc.SessionDescription
	AddICECandidate(candidate webrtc.ICECandidateInit) error
	ConnectionState() webrtc.PeerConnectionState

	OnICECandidate(fn func(webrtc.ICECandidateInit))
	OnTrack(fn func(RemoteTrack))
	OnConnectionStateChange(fn func(webrtc.PeerConnectionState))
	// DetachHandlers replaces every registered callback with a no-op.
	DetachHandlers()
	Close() error
}

// PeerFactory builds peer connections.
type PeerFactory interface {
	NewPeerConnection(cfg webrtc.Configuration) (PeerConnection, error)
}

// PeerFactoryFunc adapts a function to PeerFactory.
type PeerFactoryFunc func(cfg webrtc.Configuration) (PeerConnection, error)

func (f PeerFactoryFunc) NewPeerConnection(cfg webrtc.Configuration) (PeerConnection, error) {
	return f(cfg)
}

// PionFactory creates pion peer connections sharing one API instance.
type PionFactory struct {
	api *webrtc.API
}

// NewPionFactory registers the default codecs and interceptors (NACK, RTCP reports,
// TWCC) and uses generous ICE timeouts so a short NAT or relay hiccup is reported as
// disconnected rather than failed.
func NewPionFactory() (*PionFactory, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	interceptorRegistry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	se := webrtc.SettingEngine{}
	se.SetICETimeouts(30*time.Second, 120*time.Second, 2*time.Second)

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(interceptorRegistry),
		webrtc.WithSettingEngine(se),
	)
	return &PionFactory{api: api}, nil
}

func (f *PionFactory) NewPeerConnection(cfg webrtc.Configuration) (PeerConnection, error) {
	pc, err := f.api.NewPeerConnection(cfg)
	if err != nil {
		return nil, err
	}
	return &pionPeer{pc: pc}, nil
}

type pionPeer struct {
	pc *webrtc.PeerConnection

	mu      sync.Mutex
	senders map[string]*webrtc.RTPSender
}

func (p *pionPeer) AddTrack(track webrtc.TrackLocal) error {
	sender, err := p.pc.AddTrack(track)
	if err != nil {
		return err
	}

	p.mu.Lock()
	if p.senders == nil {
		p.senders = make(map[string]*webrtc.RTPSender)
	}
	p.senders[track.ID()] = sender
	p.mu.Unlock()

	// RTCP has to be read for the interceptors to run.
	go func() {
		rtcpBuf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(rtcpBuf); err != nil {
				return
			}
		}
	}()
	return nil
}

func (p *pionPeer) RemoveTrack(trackID string) error {
	p.mu.Lock()
	sender, ok := p.senders[trackID]
	delete(p.senders, trackID)
	p.mu.Unlock()
	if !ok {
		return nil
	}
	return p.pc.RemoveTrack(sender)
}

func (p *pionPeer) SenderTrackIDs() []string {
	var ids []string
	for _, sender := range p.pc.GetSenders() {
		if track := sender.Track(); track != nil {
			ids = append(ids, track.ID())
		}
	}
	return ids
}

func (p *pionPeer) CreateOffer() (webrtc.SessionDescription, error) {
	return p.pc.CreateOffer(nil)
}

func (p *pionPeer) CreateAnswer() (webrtc.SessionDescription, error) {
	return p.pc.CreateAnswer(nil)
}

func (p *pionPeer) SetLocalDescription(sd webrtc.SessionDescription) error {
	return p.pc.SetLocalDescription(sd)
}

func (p *pionPeer) SetRemoteDescription(sd webrtc.SessionDescription) error {
	return p.pc.SetRemoteDescription(sd)
}

func (p *pionPeer) RemoteDescription() *webrtc.SessionDescription {
	return p.pc.RemoteDescription()
}

func (p *pionPeer) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	return p.pc.AddICECandidate(candidate)
}

func (p *pionPeer) ConnectionState() webrtc.PeerConnectionState {
	return p.pc.ConnectionState()
}

func (p *pionPeer) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	p.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		// nil marks the end of gathering.
		if c == nil {
			return
		}
		fn(c.ToJSON())
	})
}

func (p *pionPeer) OnTrack(fn func(RemoteTrack)) {
	p.pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		fn(&pionRemoteTrack{track: track, receiver: receiver})
	})
}

func (p *pionPeer) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	p.pc.OnConnectionStateChange(fn)
}

func (p *pionPeer) DetachHandlers() {
	p.pc.OnICECandidate(func(*webrtc.ICECandidate) {})
	p.pc.OnTrack(func(*webrtc.TrackRemote, *webrtc.RTPReceiver) {})
	p.pc.OnConnectionStateChange(func(webrtc.PeerConnectionState) {})
}

func (p *pionPeer) Close() error {
	return p.pc.Close()
}

type pionRemoteTrack struct {
	track    *webrtc.TrackRemote
	receiver *webrtc.RTPReceiver
}

func (t *pionRemoteTrack) ID() string                { return t.track.ID() }
func (t *pionRemoteTrack) StreamID() string          { return t.track.StreamID() }
func (t *pionRemoteTrack) Kind() webrtc.RTPCodecType { return t.track.Kind() }

func (t *pionRemoteTrack) Read(b []byte) (int, interceptor.Attributes, error) {
	return t.track.Read(b)
}

func (t *pionRemoteTrack) Stop() error {
	return t.receiver.Stop()
}
