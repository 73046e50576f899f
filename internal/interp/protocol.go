package interp

import (
	"bufio"
	"encoding/json"
	"fmt"
	"strings"
)

// Sentinels the bootstrap.py driver writes/expects on its stdio streams, per
// the original_source test driver's build_driver() reference.
const (
	sentinelReady       = "__REPL_READY__"
	sentinelExecMarker  = "__REPL_EXEC__"
	sentinelResultStart = "__REPL_RESULT_START__"
	sentinelResultEnd   = "__REPL_RESULT_END__"
)

// Result is the decoded trailing JSON block of one execute response.
type Result struct {
	Stdout      string            `json:"stdout"`
	Stderr      string            `json:"stderr"`
	FinalAnswer *string           `json:"final_answer,omitempty"`
	FinalVar    *string           `json:"final_var,omitempty"`
	Submitted   bool              `json:"submitted,omitempty"`
	Error       *string           `json:"error,omitempty"`
	ShowVars    map[string]string `json:"show_vars,omitempty"`
}

// ExecuteResponse is the full decoded response to one Execute call: anything
// the child wrote to stdout before the result block, plus the result itself.
type ExecuteResponse struct {
	UserStdout string
	Result     Result
}

// encodeExecuteRequest builds the bytes written to the child's stdin for one
// execute call: JSON({code}) followed by the exec sentinel, per spec.md §5.2.
func encodeExecuteRequest(code string) ([]byte, error) {
	payload, err := json.Marshal(struct {
		Code string `json:"code"`
	}{Code: code})
	if err != nil {
		return nil, fmt.Errorf("marshal execute request: %w", err)
	}
	var buf strings.Builder
	buf.Write(payload)
	buf.WriteByte('\n')
	buf.WriteString(sentinelExecMarker)
	buf.WriteByte('\n')
	return []byte(buf.String()), nil
}

// readExecuteResponse reads lines from r until the result block closes,
// returning everything before sentinelResultStart as user stdout and the
// JSON lines between the start/end sentinels decoded into a Result.
func readExecuteResponse(r *bufio.Reader) (*ExecuteResponse, error) {
	var userStdout strings.Builder
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return nil, fmt.Errorf("read response: %w", err)
		}
		trimmed := strings.TrimRight(line, "\r\n")
		if trimmed == sentinelResultStart {
			break
		}
		userStdout.WriteString(line)
	}

	var resultBuf strings.Builder
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return nil, fmt.Errorf("read result block: %w", err)
		}
		trimmed := strings.TrimRight(line, "\r\n")
		if trimmed == sentinelResultEnd {
			break
		}
		resultBuf.WriteString(line)
	}

	var result Result
	if err := json.Unmarshal([]byte(resultBuf.String()), &result); err != nil {
		return nil, fmt.Errorf("decode result block: %w", err)
	}
	return &ExecuteResponse{UserStdout: userStdout.String(), Result: result}, nil
}

// waitForReadySentinel reads lines from r until it sees sentinelReady.
func waitForReadySentinel(r *bufio.Reader) error {
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return fmt.Errorf("read ready sentinel: %w", err)
		}
		if strings.TrimRight(line, "\r\n") == sentinelReady {
			return nil
		}
	}
}
