// Copyright 2026 The Clawline Authors
// SPDX-License-Identifier: Apache-2.0

package transfer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/clawline/clawline/mediastore"
)

// iceGatherTimeout bounds ICE candidate gathering before the answer
// SDP is published.
const iceGatherTimeout = 15 * time.Second

// connectTimeout bounds the wait for the device's data channel to open
// after the answer is returned.
const connectTimeout = 30 * time.Second

// receiveTimeout bounds one whole transfer once its channel opens.
const receiveTimeout = 5 * time.Minute

// maxTransferSize caps a single transfer. The media store holds the
// full blob in memory while encrypting, so this is a memory bound too.
const maxTransferSize = 512 << 20

// Offer is a device's request to push one attachment.
type Offer struct {
	// SDP is the device's session description offer.
	SDP string

	// MIMEType declares the content type of the incoming blob.
	MIMEType string

	// Name is an optional filename hint, used only for logging.
	Name string
}

// Incoming is the result of one transfer. Exactly one Incoming is
// delivered per accepted offer: a stored reference or an error.
type Incoming struct {
	Ref   mediastore.Ref
	Bytes int64
	Err   error
}

// Config wires an Answerer.
type Config struct {
	Media *mediastore.Store

	// ICEServers are offered to pion for candidate gathering. Empty
	// means host candidates only, which covers same-LAN devices.
	ICEServers []webrtc.ICEServer

	Logger *slog.Logger
}

// Answerer accepts WebRTC transfer offers and stores the received
// blobs. One Answerer serves all connections; each Accept call builds
// an independent PeerConnection.
type Answerer struct {
	media      *mediastore.Store
	iceServers []webrtc.ICEServer
	logger     *slog.Logger
}

func NewAnswerer(config Config) (*Answerer, error) {
	if config.Media == nil {
		return nil, errors.New("transfer: Media is required")
	}
	if config.Logger == nil {
		return nil, errors.New("transfer: Logger is required")
	}
	return &Answerer{
		media:      config.Media,
		iceServers: config.ICEServers,
		logger:     config.Logger,
	}, nil
}

// Accept answers the offer and starts waiting for the device's data
// channel. It blocks through ICE gathering (vanilla ICE: the returned
// SDP carries every candidate) and returns the answer SDP plus a
// channel that delivers exactly one Incoming when the transfer
// finishes or fails. The PeerConnection is torn down after delivery.
func (a *Answerer) Accept(ctx context.Context, offer Offer) (string, <-chan Incoming, error) {
	pc, err := a.newPeerConnection()
	if err != nil {
		return "", nil, fmt.Errorf("creating PeerConnection: %w", err)
	}

	done := make(chan Incoming, 1)
	settled := make(chan struct{})
	var once sync.Once
	finish := func(result Incoming) {
		once.Do(func() {
			done <- result
			close(settled)
			pc.Close()
		})
	}

	connectTimer := time.AfterFunc(connectTimeout, func() {
		finish(Incoming{Err: fmt.Errorf("no data channel opened within %s", connectTimeout)})
	})

	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		dc.OnOpen(func() {
			connectTimer.Stop()
			raw, err := dc.Detach()
			if err != nil {
				finish(Incoming{Err: fmt.Errorf("detaching data channel %s: %w", dc.Label(), err)})
				return
			}
			go a.receive(raw, offer, finish)
		})
	})

	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		a.logger.Debug("transfer ICE state change", "state", state.String())
		if state == webrtc.ICEConnectionStateFailed {
			finish(Incoming{Err: errors.New("ICE connection failed")})
		}
	})

	remote := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offer.SDP}
	if err := pc.SetRemoteDescription(remote); err != nil {
		connectTimer.Stop()
		pc.Close()
		return "", nil, fmt.Errorf("setting remote description: %w", err)
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		connectTimer.Stop()
		pc.Close()
		return "", nil, fmt.Errorf("creating SDP answer: %w", err)
	}

	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		connectTimer.Stop()
		pc.Close()
		return "", nil, fmt.Errorf("setting local description: %w", err)
	}

	select {
	case <-gatherComplete:
	case <-time.After(iceGatherTimeout):
		connectTimer.Stop()
		pc.Close()
		return "", nil, fmt.Errorf("ICE gathering timed out after %s", iceGatherTimeout)
	case <-ctx.Done():
		connectTimer.Stop()
		pc.Close()
		return "", nil, ctx.Err()
	}

	// Abort the transfer if the caller's context ends first.
	go func() {
		select {
		case <-ctx.Done():
			finish(Incoming{Err: ctx.Err()})
		case <-settled:
		}
	}()

	return pc.LocalDescription().SDP, done, nil
}

// receive drains one data channel into the media store. The device
// signals completion by closing the channel; the read deadline bounds
// the whole transfer.
func (a *Answerer) receive(raw io.ReadWriteCloser, offer Offer, finish func(Incoming)) {
	stream := newReceiveStream(raw)
	defer stream.Close()
	stream.SetReadDeadline(time.Now().Add(receiveTimeout))

	// The detached channel is message-oriented under the hood: each
	// Read returns one SCTP message and fails if the buffer is too
	// small. 64 KiB covers pion's maximum message size.
	var blob bytes.Buffer
	received, err := io.CopyBuffer(&blob, io.LimitReader(stream, maxTransferSize+1), make([]byte, 64*1024))
	if err != nil {
		finish(Incoming{Err: fmt.Errorf("receiving transfer data: %w", err)})
		return
	}
	if received > maxTransferSize {
		finish(Incoming{Err: fmt.Errorf("transfer exceeds the %d byte limit", int64(maxTransferSize))})
		return
	}
	if received == 0 {
		finish(Incoming{Err: errors.New("transfer carried no data")})
		return
	}

	put, err := a.media.Put(blob.Bytes(), offer.MIMEType)
	if err != nil {
		finish(Incoming{Err: fmt.Errorf("storing transfer: %w", err)})
		return
	}

	a.logger.Info("transfer received",
		"ref", put.Ref.Short(),
		"bytes", received,
		"mime_type", offer.MIMEType,
		"name", offer.Name,
		"duplicate", put.Duplicate)
	finish(Incoming{Ref: put.Ref, Bytes: received})
}

// newPeerConnection builds a pion PeerConnection configured for
// detached data channels. Loopback candidates are included: devices on
// the same machine (and tests) have no other interface.
func (a *Answerer) newPeerConnection() (*webrtc.PeerConnection, error) {
	settingEngine := webrtc.SettingEngine{}
	settingEngine.DetachDataChannels()
	settingEngine.SetIncludeLoopbackCandidate(true)

	api := webrtc.NewAPI(webrtc.WithSettingEngine(settingEngine))
	return api.NewPeerConnection(webrtc.Configuration{ICEServers: a.iceServers})
}
