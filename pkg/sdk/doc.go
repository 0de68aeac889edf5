/*
Package sdk provides the TinyTrack client library for reporting UI widget interactions.

# Quick Start

Create one client per session, start it, and hand it to the code that renders widgets:

	package main

	import (
	    "context"
	    "log"
	    "net/http"

	    "github.com/nicktill/tinytrack/pkg/event"
	    "github.com/nicktill/tinytrack/pkg/sdk"
	    "github.com/nicktill/tinytrack/pkg/sdk/httpx"
	)

	func main() {
	    client, err := sdk.New(sdk.Config{
	        Endpoint: "http://localhost:8080",
	        AppID:    "storefront",
	    })
	    if err != nil {
	        log.Fatal(err)
	    }

	    client.Start(context.Background())
	    defer client.Stop()

	    mux := http.NewServeMux()
	    mux.HandleFunc("/checkout", func(w http.ResponseWriter, r *http.Request) {
	        sdk.FromContext(r.Context()).Track(event.Input{
	            Component: "Button",
	            Variant:   "primary",
	            Action:    "click",
	            Metadata:  map[string]any{"label": "Pay now"},
	        })
	    })

	    http.ListenAndServe(":8000", httpx.Middleware(client)(mux))
	}

# Delivery

Track sanitizes metadata, stamps the event with the current time and appends it to an
in-memory queue. It never blocks on the network and never returns an error.

Every FlushEvery (default 2s) the client drains the queue, one POST /events call per
event, oldest first. On success the event leaves the queue and the next one is sent in
the same flush. On failure the event stays at the head and the client waits

	min(30s, 1s * 2^(failures-1))

before trying again. A success resets the wait.

Only one flush runs at a time. A Flush call that overlaps a running one returns at once.

# Queue Overflow

The queue holds MaxQueueSize events (default 100). When it is full the oldest event is
dropped to make room, so a long outage keeps the most recent interactions.

# Metadata

Keys that look sensitive (value, password, pass, pwd, token, secret, authorization,
cookie, or anything containing "password" or "token") are removed at every depth.
Timestamps, big numbers, byte slices and errors become strings; functions, channels and
cyclic references are omitted. Every event carries metadata.__tracking with the session
ID and, if configured, the app ID.

# Turning It Off

	client, _ := sdk.New(sdk.Config{Disabled: true})

A disabled client accepts calls and does nothing. So does a nil *Client, which is what
FromContext returns when no client was attached.
*/
package sdk
