package lldb

import (
	"context"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/go-dap"
)

// frameLine matches one frame of `bt` output, e.g.
//
//	frame #0: 0x0000555555555189 game`update_score(points=10) at game.c:12:5
//	frame #2: 0x00007ffff7de50b3 libc.so.6`__libc_start_main + 243
var frameLine = regexp.MustCompile("frame #(\\d+):\\s+(0x[0-9a-fA-F]+)\\s+(?:([^`\\s]+)`)?(.+?)(?:\\s+at\\s+(\\S+?):(\\d+)(?::(\\d+))?)?\\s*$")

var frameOffset = regexp.MustCompile(`\s+\+\s+\d+$`)

// ParseBacktrace decodes the frames of lldb's `bt` output. Lines that are
// not frames (thread headers, the echoed command) are skipped.
func ParseBacktrace(output string) []dap.StackFrame {
	frames := []dap.StackFrame{}
	for _, raw := range strings.Split(output, "\n") {
		m := frameLine.FindStringSubmatch(raw)
		if m == nil {
			continue
		}

		id, _ := strconv.Atoi(m[1])
		frame := dap.StackFrame{
			Id:                          id,
			Name:                        frameOffset.ReplaceAllString(strings.TrimSpace(m[4]), ""),
			InstructionPointerReference: m[2],
		}
		if m[3] != "" {
			frame.ModuleId = m[3]
		}
		if m[5] != "" {
			frame.Line, _ = strconv.Atoi(m[6])
			if m[7] != "" {
				frame.Column, _ = strconv.Atoi(m[7])
			}
			frame.Source = &dap.Source{
				Name: filepath.Base(m[5]),
				Path: m[5],
			}
		}
		frames = append(frames, frame)
	}
	return frames
}

// CallStack returns the frames of the currently selected thread
func (c *Controller) CallStack(ctx context.Context) ([]dap.StackFrame, error) {
	out, err := c.SendCommand(ctx, "bt")
	if err != nil {
		return nil, err
	}
	return ParseBacktrace(out), nil
}
