package webrtc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	pion "github.com/pion/webrtc/v3"
)

// StatusChannelLabel is the data channel relays use to push transcript and
// status documents to the peer.
const StatusChannelLabel = "session-status"

// StatusMessage is one document pushed on the status channel. Raw always
// holds the original bytes, so undecodable documents are still delivered.
type StatusMessage struct {
	Type   string `json:"type"` // "status" or "transcript"
	Status string `json:"status,omitempty"`
	Role   string `json:"role,omitempty"`
	Text   string `json:"text,omitempty"`
	Raw    []byte `json:"-"`
}

// HeadlessOptions configures a browserless peer against a relay's signaling
// endpoint. Audio arrives as RTP on the negotiated receive-only track;
// transcript and status updates arrive on the status data channel.
type HeadlessOptions struct {
	SignalURL    string // SDP exchange endpoint of the relay
	SessionToken string // minted by MintSessionToken
	ICEServers   []pion.ICEServer

	OnStatus   func(msg StatusMessage)
	OnAudioRTP func(pkts uint64) // sampled every 200 packets
	OnState    func(state pion.PeerConnectionState)
}

// HeadlessConnect opens a receive-only peer, performs a non-trickle SDP
// exchange against the signal endpoint (local candidates are gathered before
// the offer is posted), and blocks until ctx is done or the connection fails.
func HeadlessConnect(ctx context.Context, opt HeadlessOptions) error {
	if opt.SignalURL == "" || opt.SessionToken == "" {
		return errors.New("signal URL and session token are required")
	}
	cfg := pion.Configuration{}
	if len(opt.ICEServers) > 0 {
		cfg.ICEServers = opt.ICEServers
	}
	pc, err := pion.NewPeerConnection(cfg)
	if err != nil {
		return err
	}
	defer pc.Close()

	failed := make(chan error, 1)
	pc.OnConnectionStateChange(func(state pion.PeerConnectionState) {
		if opt.OnState != nil {
			opt.OnState(state)
		}
		if state == pion.PeerConnectionStateFailed {
			select {
			case failed <- errors.New("peer connection failed"):
			default:
			}
		}
	})

	dc, err := pc.CreateDataChannel(StatusChannelLabel, nil)
	if err != nil {
		return err
	}
	if opt.OnStatus != nil {
		dc.OnMessage(func(m pion.DataChannelMessage) {
			var sm StatusMessage
			_ = json.Unmarshal(m.Data, &sm)
			sm.Raw = m.Data
			opt.OnStatus(sm)
		})
	}

	_, err = pc.AddTransceiverFromKind(pion.RTPCodecTypeAudio, pion.RTPTransceiverInit{
		Direction: pion.RTPTransceiverDirectionRecvonly,
	})
	if err != nil {
		return err
	}

	if opt.OnAudioRTP != nil {
		pc.OnTrack(func(track *pion.TrackRemote, receiver *pion.RTPReceiver) {
			var pkts uint64
			buf := make([]byte, 1500)
			for {
				_, _, e := track.Read(buf)
				if e != nil {
					return
				}
				pkts++
				if pkts%200 == 0 {
					opt.OnAudioRTP(pkts)
				}
			}
		})
	}

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return err
	}
	gathered := pion.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		return err
	}
	select {
	case <-gathered:
	case <-ctx.Done():
		return ctx.Err()
	}

	// The gathered description carries the candidates; the original offer
	// does not.
	local := pc.LocalDescription()

	req, err := http.NewRequestWithContext(ctx, "POST", opt.SignalURL, bytes.NewBufferString(local.SDP))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+opt.SessionToken)
	req.Header.Set("Content-Type", "application/sdp")
	httpClient := &http.Client{Timeout: 20 * time.Second}
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("SDP exchange failed: %d: %s", resp.StatusCode, string(b))
	}

	answer := pion.SessionDescription{Type: pion.SDPTypeAnswer, SDP: string(b)}
	if err := pc.SetRemoteDescription(answer); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return nil
	case err := <-failed:
		return err
	}
}
