package cmd

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/slush-dev/pushrelay"
	"gopkg.in/yaml.v3"
)

// yamlOut prints data as a YAML document to w.
func yamlOut(w io.Writer, data any) {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	enc.Encode(data)
	enc.Close()
}

// consoleSink is the presentation sink of the CLI: notifications are
// printed, one block per notification.
type consoleSink struct {
	mu             sync.Mutex
	w              io.Writer
	yaml           bool
	showActivation bool
}

func newConsoleSink(w io.Writer, asYAML, showActivation bool) *consoleSink {
	return &consoleSink{w: w, yaml: asYAML, showActivation: showActivation}
}

func (s *consoleSink) Render(_ context.Context, notificationID int64, env pushrelay.Envelope, activation string) (pushrelay.RenderHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.yaml {
		row := map[string]any{
			"event":           "notification",
			"notification_id": notificationID,
			"text":            env.Text,
		}
		if env.ID != "" {
			row["id"] = env.ID
		}
		if env.TargetActivity != "" {
			row["target_activity"] = env.TargetActivity
		}
		if len(env.Metadata) > 0 {
			row["metadata"] = env.Metadata
		}
		if s.showActivation {
			row["activation"] = activation
		}
		fmt.Fprintln(s.w, "---")
		yamlOut(s.w, row)
		return pushrelay.RenderHandle(fmt.Sprintf("console:%d", notificationID)), nil
	}

	fmt.Fprintf(s.w, ">> [%d] %s\n", notificationID, truncateStr(env.Text, 120))
	if env.TargetActivity != "" {
		fmt.Fprintf(s.w, "   activity: %s\n", env.TargetActivity)
	}
	if md := formatMetadata(env.Metadata); md != "" {
		fmt.Fprintf(s.w, "   %s\n", md)
	}
	if s.showActivation {
		fmt.Fprintf(s.w, "   open: pushrelay open %s\n", activation)
	}
	return pushrelay.RenderHandle(fmt.Sprintf("console:%d", notificationID)), nil
}

func (s *consoleSink) Dismiss(_ context.Context, notificationID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.yaml {
		fmt.Fprintln(s.w, "---")
		yamlOut(s.w, map[string]any{"event": "dismissed", "notification_id": notificationID})
		return nil
	}
	fmt.Fprintf(s.w, ">> DISMISSED [%d]\n", notificationID)
	return nil
}

// formatMetadata renders metadata as sorted key=value pairs.
func formatMetadata(md map[string]string) string {
	if len(md) == 0 {
		return ""
	}
	keys := make([]string, 0, len(md))
	for k := range md {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+md[k])
	}
	return strings.Join(parts, " ")
}

func truncateStr(s string, maxLen int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen - 3
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
