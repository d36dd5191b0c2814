package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"

	"github.com/spf13/cobra"

	"lectern/internal/client"
	"lectern/internal/stream"
)

// runSession bundles a streaming session with the API endpoint it talks to,
// so commands can describe connection failures with the actual bind.
type runSession struct {
	sess *client.Session
	bind string
}

func newRunSession(ctx *commandContext, cmd *cobra.Command, entityID string, jsonOut bool) (*runSession, error) {
	bind, token := ctx.apiEndpoint()
	if bind == "" {
		return nil, errors.New("daemon api is not configured (set paths.api_bind)")
	}
	apiClient, err := client.New(bind, token)
	if err != nil {
		return nil, err
	}

	opts := client.SessionOptions{Client: apiClient, EntityID: entityID}
	if !jsonOut {
		printer := &eventPrinter{out: cmd.OutOrStdout()}
		opts.Observer = printer.handle
	}
	sess, err := client.NewSession(opts)
	if err != nil {
		return nil, err
	}
	return &runSession{sess: sess, bind: bind}, nil
}

func (r *runSession) close() {
	r.sess.Close()
}

// describeErr rewrites dial failures into a hint pointing at `lectern start`.
func (r *runSession) describeErr(err error) error {
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return fmt.Errorf("daemon api at %s is unreachable; start the daemon with `lectern start`", r.bind)
	}
	return err
}

// finish waits for the session's listener to drain, then prints the outcome
// and maps a failed run to a non-zero exit.
func (r *runSession) finish(cmd *cobra.Command, entityID string, jsonOut bool) error {
	state, err := r.sess.Wait(cmd.Context())
	if err != nil {
		return err
	}

	if jsonOut {
		if err := writeJSON(cmd, sessionOutput(r.sess, entityID)); err != nil {
			return err
		}
	} else if state == client.StateCompleted {
		if result := r.sess.Result(); len(result) > 0 && string(result) != "{}" {
			fmt.Fprintln(cmd.OutOrStdout(), indentJSON(result))
		}
	}

	if state == client.StateError {
		return fmt.Errorf("run for %s failed: %s", entityID, r.sess.Err())
	}
	return nil
}

type runOutput struct {
	EntityID string          `json:"entityId"`
	RunID    string          `json:"runId,omitempty"`
	State    string          `json:"state"`
	Version  int64           `json:"version"`
	Error    string          `json:"error,omitempty"`
	Result   json.RawMessage `json:"result"`
	Slides   []stream.Slide  `json:"slides,omitempty"`
}

func sessionOutput(sess *client.Session, entityID string) runOutput {
	snap := sess.SnapshotView()
	return runOutput{
		EntityID: entityID,
		RunID:    snap.RunID,
		State:    string(snap.State),
		Version:  snap.Version,
		Error:    snap.Error,
		Result:   sess.Result(),
		Slides:   snap.Slides,
	}
}
