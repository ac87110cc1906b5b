// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package server

import (
	"context"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/livegraph/pkg/logging"
	"github.com/AleutianAI/livegraph/services/viewer/interaction"
	"github.com/AleutianAI/livegraph/services/viewer/layout"
	"github.com/AleutianAI/livegraph/services/viewer/session"
)

// currentFrame returns the latest frame with the selection marked.
func (h *Handlers) currentFrame() layout.Frame {
	f := h.sess.Layout().Frame()
	if cur, ok := h.sess.Selection().Current(); ok {
		return f.WithSelected(cur.ID)
	}
	return f
}

// HandleStream handles GET /v1/viewer/stream.
//
// Description:
//
//	Upgrades to a WebSocket. The server sends StreamMessage values: a frame
//	(with this browser's transform) for every layout tick, at most FrameRate
//	per second with intermediate frames dropped, a session message on every
//	session change, and an action message for every pointer event. The
//	browser sends ClientMessage values. Optional query parameters w and h
//	give the initial viewport size.
func (h *Handlers) HandleStream(c *gin.Context) {
	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("failed to upgrade the websocket", "error", err)
		return
	}
	defer ws.Close()

	viewerID := uuid.NewString()
	logger := h.logger.With("viewer_id", viewerID)
	logger.Info("Viewer connected")
	defer logger.Info("Viewer disconnected")
	defer h.metrics.ViewerConnected()()

	width := queryFloat(c, "w", h.cfg.ViewportWidth)
	height := queryFloat(c, "h", h.cfg.ViewportHeight)
	home := interaction.Centered(width, height)

	v := &viewer{
		h:       h,
		ws:      ws,
		logger:  logger,
		ctl:     interaction.NewController(h.ictl, h.sess.Layout(), h.sess.Selection(), home, logger),
		limiter: rate.NewLimiter(rate.Limit(h.cfg.FrameRate), max(h.cfg.FrameBurst, 1)),
		frames:  make(chan layout.Frame, 1),
		views:   make(chan session.View, 1),
		actions: make(chan interaction.Action, 16),
	}
	v.run(c.Request.Context())
}

func queryFloat(c *gin.Context, key string, fallback float64) float64 {
	if s := c.Query(key); s != "" {
		if f, err := strconv.ParseFloat(s, 64); err == nil && f > 0 {
			return f
		}
	}
	return fallback
}

// viewer is one connected browser.
type viewer struct {
	h       *Handlers
	ws      *websocket.Conn
	logger  *logging.Logger
	ctl     *interaction.Controller
	limiter *rate.Limiter

	frames  chan layout.Frame
	views   chan session.View
	actions chan interaction.Action

	// sessionID is the session last sent. Owned by writeLoop.
	sessionID string
}

// offer hands v to a latest-wins channel of capacity 1. It reports whether
// an older value was discarded.
func offer[T any](ch chan T, v T) (dropped bool) {
	for {
		select {
		case ch <- v:
			return dropped
		default:
		}
		select {
		case <-ch:
			dropped = true
		default:
		}
	}
}

func (v *viewer) run(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	stop := context.AfterFunc(ctx, func() { v.ws.Close() })
	defer stop()

	// Subscribers must not block: the layout and session call them from
	// their own goroutines.
	unsubFrames := v.h.sess.Layout().Subscribe(func(f layout.Frame) {
		if offer(v.frames, f) {
			v.h.metrics.ObserveFrame(false)
		}
	})
	defer unsubFrames()
	unsubViews := v.h.sess.Subscribe(func(sv session.View) {
		offer(v.views, sv)
	})
	defer unsubViews()

	offer(v.views, v.h.sess.View())
	offer(v.frames, v.h.sess.Layout().Frame())

	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		v.readLoop(ctx, cancel)
	}()
	v.writeLoop(ctx)

	// A browser that leaves mid-drag must not keep its node pinned.
	cancel()
	<-readDone
	v.ctl.ResetView()
}

func (v *viewer) readLoop(ctx context.Context, cancel context.CancelFunc) {
	defer cancel()
	for {
		var msg ClientMessage
		if err := v.ws.ReadJSON(&msg); err != nil {
			if ctx.Err() == nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				v.logger.Debug("viewer read ended", "error", err)
			}
			return
		}

		if msg.Type == "resize" {
			if msg.Width > 0 && msg.Height > 0 {
				home := interaction.Centered(msg.Width, msg.Height)
				v.ctl.SetHome(home)
				v.ctl.SetTransform(home)
				v.refresh()
			}
			continue
		}

		action := v.ctl.Handle(msg.PointerEvent)
		switch action {
		case interaction.ActionNone:
			continue
		case interaction.ActionPan, interaction.ActionZoom:
			v.refresh()
		}
		select {
		case v.actions <- action:
		default:
		}
	}
}

// refresh re-sends the current frame after a transform change.
func (v *viewer) refresh() {
	offer(v.frames, v.h.sess.Layout().Frame())
}

func (v *viewer) writeLoop(ctx context.Context) {
	for {
		var msg StreamMessage
		select {
		case <-ctx.Done():
			return

		case a := <-v.actions:
			msg = StreamMessage{Type: MessageAction, Action: a}

		case sv := <-v.views:
			if sv.SessionID != v.sessionID {
				v.sessionID = sv.SessionID
				if sv.SessionID != "" {
					v.ctl.ResetView()
					v.refresh()
				}
			}
			resp := sessionResponse(sv)
			msg = StreamMessage{Type: MessageSession, Session: &resp}

		case f := <-v.frames:
			if err := v.limiter.Wait(ctx); err != nil {
				return
			}
			// Frames that arrived while waiting supersede this one.
			select {
			case f = <-v.frames:
			default:
			}
			if cur, ok := v.h.sess.Selection().Current(); ok {
				f = f.WithSelected(cur.ID)
			}
			t := v.ctl.Transform()
			msg = StreamMessage{Type: MessageFrame, Frame: &f, Transform: &t}
		}

		if err := v.write(msg); err != nil {
			if ctx.Err() == nil {
				v.logger.Debug("viewer write failed", "error", err)
			}
			return
		}
		if msg.Type == MessageFrame {
			v.h.metrics.ObserveFrame(true)
		}
	}
}

func (v *viewer) write(msg StreamMessage) error {
	if v.h.cfg.WriteTimeout > 0 {
		if err := v.ws.SetWriteDeadline(time.Now().Add(v.h.cfg.WriteTimeout)); err != nil {
			return err
		}
	}
	return v.ws.WriteJSON(msg)
}
