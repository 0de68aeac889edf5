package main

import (
	"bytes"
	"context"
	"fmt"
	"math/rand/v2"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// startTrafficSimulator plays a user clicking through the widgets.
func startTrafficSimulator(ctx context.Context, baseURL string, log *zap.Logger) {
	// Give server a moment to fully start
	select {
	case <-time.After(500 * time.Millisecond):
	case <-ctx.Done():
		return
	}

	ticker := time.NewTicker(700 * time.Millisecond)
	defer ticker.Stop()

	log.Info("traffic simulator started")

	n := 0
	for {
		select {
		case <-ctx.Done():
			log.Info("traffic simulator stopped", zap.Int("interactions", n))
			return
		case <-ticker.C:
			n++
			wd := widgets[rand.IntN(len(widgets))]
			variant := wd.Variants[rand.IntN(len(wd.Variants))]
			action := wd.Actions[rand.IntN(len(wd.Actions))]

			// Sensitive keys are stripped before anything leaves the process.
			body := fmt.Sprintf(`{"step":%d,"user":{"id":"u-%d","password":"not-sent"}}`, n, rand.IntN(5))
			url := fmt.Sprintf("%s/widgets/%s/%s/%s", baseURL, wd.Component, variant, action)

			req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBufferString(body))
			if err != nil {
				continue
			}
			req.Header.Set("Content-Type", "application/json")
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				log.Debug("interaction failed", zap.String("url", url), zap.Error(err))
				continue
			}
			resp.Body.Close()
			log.Debug("interaction",
				zap.String("component", wd.Component),
				zap.String("variant", variant),
				zap.String("action", action),
				zap.Int("status", resp.StatusCode),
			)
		}
	}
}
