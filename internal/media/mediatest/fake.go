// Package mediatest provides in-memory peer connections, tracks and capturers for
// exercising call flows without network or devices.
package mediatest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"
	"github.com/mossy-p/tutor-call/internal/media"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
)

var (
	errNoRemoteDescription = errors.New("remote description not set")
	errClosed              = errors.New("peer connection closed")
)

// Peer is a scripted media.PeerConnection. Descriptions follow the same signaling
// state rules as a pion peer connection, which has no rollback.
type Peer struct {
	mu sync.Mutex

	senders   []string
	local     *webrtc.SessionDescription
	remote    *webrtc.SessionDescription
	state     webrtc.PeerConnectionState
	signaling webrtc.SignalingState

	offers        int
	remoteSets    int
	closes        int
	detached      bool
	candidates    []webrtc.ICECandidateInit
	onCandidate   func(webrtc.ICECandidateInit)
	onTrack       func(media.RemoteTrack)
	onStateChange func(webrtc.PeerConnectionState)

	// Injected failures.
	CreateOfferErr  error
	CreateAnswerErr error
	SetRemoteErr    error
	AddTrackErr     error
}

func NewPeer() *Peer {
	return &Peer{state: webrtc.PeerConnectionStateNew, signaling: webrtc.SignalingStateStable}
}

func (p *Peer) invalid(op string, sd webrtc.SessionDescription) error {
	return fmt.Errorf("%s %s: invalid in signaling state %s", op, sd.Type, p.signaling)
}

func (p *Peer) AddTrack(track webrtc.TrackLocal) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.AddTrackErr != nil {
		return p.AddTrackErr
	}
	p.senders = append(p.senders, track.ID())
	return nil
}

func (p *Peer) RemoveTrack(trackID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	kept := p.senders[:0]
	for _, id := range p.senders {
		if id != trackID {
			kept = append(kept, id)
		}
	}
	p.senders = kept
	return nil
}

func (p *Peer) SenderTrackIDs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.senders...)
}

func (p *Peer) CreateOffer() (webrtc.SessionDescription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.CreateOfferErr != nil {
		return webrtc.SessionDescription{}, p.CreateOfferErr
	}
	if p.signaling == webrtc.SignalingStateClosed {
		return webrtc.SessionDescription{}, errClosed
	}
	p.offers++
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: fmt.Sprintf("offer-%d-%d", p.offers, len(p.senders))}, nil
}

func (p *Peer) CreateAnswer() (webrtc.SessionDescription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.CreateAnswerErr != nil {
		return webrtc.SessionDescription{}, p.CreateAnswerErr
	}
	if p.signaling != webrtc.SignalingStateHaveRemoteOffer {
		return webrtc.SessionDescription{}, errors.New("no remote offer to answer")
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer-to-" + p.remote.SDP}, nil
}

func (p *Peer) SetLocalDescription(sd webrtc.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case sd.Type == webrtc.SDPTypeOffer && (p.signaling == webrtc.SignalingStateStable || p.signaling == webrtc.SignalingStateHaveLocalOffer):
		p.signaling = webrtc.SignalingStateHaveLocalOffer
	case sd.Type == webrtc.SDPTypeAnswer && p.signaling == webrtc.SignalingStateHaveRemoteOffer:
		p.signaling = webrtc.SignalingStateStable
	default:
		return p.invalid("set local", sd)
	}
	p.local = &sd
	if p.state == webrtc.PeerConnectionStateNew {
		p.state = webrtc.PeerConnectionStateConnecting
	}
	return nil
}

func (p *Peer) SetRemoteDescription(sd webrtc.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.SetRemoteErr != nil {
		return p.SetRemoteErr
	}
	switch {
	case sd.Type == webrtc.SDPTypeOffer && (p.signaling == webrtc.SignalingStateStable || p.signaling == webrtc.SignalingStateHaveRemoteOffer):
		p.signaling = webrtc.SignalingStateHaveRemoteOffer
	case sd.Type == webrtc.SDPTypeAnswer && p.signaling == webrtc.SignalingStateHaveLocalOffer:
		p.signaling = webrtc.SignalingStateStable
	default:
		return p.invalid("set remote", sd)
	}
	p.remote = &sd
	p.remoteSets++
	return nil
}

func (p *Peer) RemoteDescription() *webrtc.SessionDescription {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.remote == nil {
		return nil
	}
	sd := *p.remote
	return &sd
}

func (p *Peer) LocalDescription() *webrtc.SessionDescription {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.local == nil {
		return nil
	}
	sd := *p.local
	return &sd
}

func (p *Peer) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.remote == nil {
		return errNoRemoteDescription
	}
	p.candidates = append(p.candidates, candidate)
	return nil
}

func (p *Peer) ConnectionState() webrtc.PeerConnectionState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Peer) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	p.mu.Lock()
	p.onCandidate = fn
	p.mu.Unlock()
}

func (p *Peer) OnTrack(fn func(media.RemoteTrack)) {
	p.mu.Lock()
	p.onTrack = fn
	p.mu.Unlock()
}

func (p *Peer) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	p.mu.Lock()
	p.onStateChange = fn
	p.mu.Unlock()
}

func (p *Peer) DetachHandlers() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onCandidate, p.onTrack, p.onStateChange = nil, nil, nil
	p.detached = true
}

func (p *Peer) Close() error {
	p.mu.Lock()
	p.closes++
	p.state = webrtc.PeerConnectionStateClosed
	p.signaling = webrtc.SignalingStateClosed
	fn := p.onStateChange
	p.mu.Unlock()
	if fn != nil {
		fn(webrtc.PeerConnectionStateClosed)
	}
	return nil
}

// EmitCandidate simulates a locally gathered ICE candidate.
func (p *Peer) EmitCandidate(candidate webrtc.ICECandidateInit) {
	p.mu.Lock()
	fn := p.onCandidate
	p.mu.Unlock()
	if fn != nil {
		fn(candidate)
	}
}

// EmitTrack simulates an incoming remote track.
func (p *Peer) EmitTrack(track media.RemoteTrack) {
	p.mu.Lock()
	fn := p.onTrack
	p.mu.Unlock()
	if fn != nil {
		fn(track)
	}
}

// EmitState moves the connection to state and notifies the handler.
func (p *Peer) EmitState(state webrtc.PeerConnectionState) {
	p.mu.Lock()
	p.state = state
	fn := p.onStateChange
	p.mu.Unlock()
	if fn != nil {
		fn(state)
	}
}

// Candidates returns the remote candidates applied so far.
func (p *Peer) Candidates() []webrtc.ICECandidateInit {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]webrtc.ICECandidateInit(nil), p.candidates...)
}

// RemoteSets counts successful SetRemoteDescription calls.
func (p *Peer) RemoteSets() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.remoteSets
}

func (p *Peer) SignalingState() webrtc.SignalingState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.signaling
}

// Closes counts Close calls.
func (p *Peer) Closes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closes
}

func (p *Peer) Detached() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.detached
}

// Factory hands out fake peers and remembers them.
type Factory struct {
	mu    sync.Mutex
	peers []*Peer
	Err   error
	// Prepare, when set, configures each peer before it is returned.
	Prepare func(*Peer)
}

func (f *Factory) NewPeerConnection(cfg webrtc.Configuration) (media.PeerConnection, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	p := NewPeer()
	if f.Prepare != nil {
		f.Prepare(p)
	}
	f.mu.Lock()
	f.peers = append(f.peers, p)
	f.mu.Unlock()
	return p, nil
}

// Peers returns every peer handed out so far, oldest first.
func (f *Factory) Peers() []*Peer {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Peer(nil), f.peers...)
}

// Last returns the most recently created peer.
func (f *Factory) Last() *Peer {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.peers) == 0 {
		return nil
	}
	return f.peers[len(f.peers)-1]
}

// LocalTrack is a sample track that counts Close calls.
type LocalTrack struct {
	*webrtc.TrackLocalStaticSample

	mu     sync.Mutex
	closes int
}

func NewLocalTrack(kind webrtc.RTPCodecType, streamID string) *LocalTrack {
	mime := webrtc.MimeTypeOpus
	if kind == webrtc.RTPCodecTypeVideo {
		mime = webrtc.MimeTypeVP8
	}
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: mime}, kind.String()+"-"+uuid.NewString(), streamID)
	if err != nil {
		panic(err)
	}
	return &LocalTrack{TrackLocalStaticSample: track}
}

func (t *LocalTrack) Close() error {
	t.mu.Lock()
	t.closes++
	t.mu.Unlock()
	return nil
}

func (t *LocalTrack) Closes() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closes
}

// RemoteTrack is an incoming track that counts Stop calls.
type RemoteTrack struct {
	id, streamID string
	kind         webrtc.RTPCodecType

	mu    sync.Mutex
	stops int
}

func NewRemoteTrack(id, streamID string, kind webrtc.RTPCodecType) *RemoteTrack {
	return &RemoteTrack{id: id, streamID: streamID, kind: kind}
}

func (t *RemoteTrack) ID() string                { return t.id }
func (t *RemoteTrack) StreamID() string          { return t.streamID }
func (t *RemoteTrack) Kind() webrtc.RTPCodecType { return t.kind }

func (t *RemoteTrack) Read([]byte) (int, interceptor.Attributes, error) {
	return 0, nil, io.EOF
}

func (t *RemoteTrack) Stop() error {
	t.mu.Lock()
	t.stops++
	t.mu.Unlock()
	return nil
}

func (t *RemoteTrack) Stops() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stops
}

// Capturer returns fresh audio+video streams of LocalTracks. With a Gate it blocks until
// the gate is closed or the context ends.
type Capturer struct {
	Err  error
	Gate chan struct{}

	mu      sync.Mutex
	streams []*media.LocalStream
}

func (c *Capturer) Capture(ctx context.Context, constraints media.Constraints) (*media.LocalStream, error) {
	if c.Gate != nil {
		select {
		case <-c.Gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if c.Err != nil {
		return nil, c.Err
	}

	streamID := "stream-" + uuid.NewString()
	var tracks []media.LocalTrack
	if constraints.Video {
		tracks = append(tracks, NewLocalTrack(webrtc.RTPCodecTypeVideo, streamID))
	}
	if constraints.Audio {
		tracks = append(tracks, NewLocalTrack(webrtc.RTPCodecTypeAudio, streamID))
	}
	stream := media.NewLocalStream(streamID, tracks...)

	c.mu.Lock()
	c.streams = append(c.streams, stream)
	c.mu.Unlock()
	return stream, nil
}

// Streams returns every stream captured so far.
func (c *Capturer) Streams() []*media.LocalStream {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*media.LocalStream(nil), c.streams...)
}
