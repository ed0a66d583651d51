package repl

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/fatih/color"
)

var (
	goodStyle = color.New(color.FgGreen, color.Bold)
	badStyle  = color.New(color.FgRed, color.Bold)
	warnStyle = color.New(color.FgYellow, color.Bold)
	infoStyle = color.New(color.FgCyan)
)

// ColorVerdict paints a verdict the way a judge page would.
func ColorVerdict(verdict string) string {
	switch verdict {
	case "AC":
		return goodStyle.Sprint(verdict)
	case "WA", "RE":
		return badStyle.Sprint(verdict)
	case "TLE", "CE":
		return warnStyle.Sprint(verdict)
	case "IE":
		return badStyle.Sprint(verdict)
	}
	return verdict
}

func colorStatus(code int) string {
	text := fmt.Sprintf("HTTP %d", code)
	switch {
	case code >= http.StatusInternalServerError:
		return badStyle.Sprint(text)
	case code >= http.StatusBadRequest:
		return warnStyle.Sprint(text)
	}
	return goodStyle.Sprint(text)
}

// summarize returns a one-line digest of a judge response, or "" when the body has none.
func summarize(action string, body []byte) string {
	switch action {
	case "evaluate":
		var resp struct {
			Verdict string `json:"verdict"`
		}
		if err := json.Unmarshal(body, &resp); err != nil || resp.Verdict == "" {
			return ""
		}
		return "verdict: " + ColorVerdict(resp.Verdict)
	case "execute":
		var resp struct {
			Success       *bool    `json:"success"`
			ExecutionTime *float64 `json:"execution_time"`
		}
		if err := json.Unmarshal(body, &resp); err != nil || resp.Success == nil {
			return ""
		}
		outcome := badStyle.Sprint("failed")
		if *resp.Success {
			outcome = goodStyle.Sprint("success")
		}
		if resp.ExecutionTime != nil {
			return fmt.Sprintf("%s in %s", outcome, infoStyle.Sprintf("%.3fs", *resp.ExecutionTime))
		}
		return outcome
	case "result":
		var resp struct {
			Data struct {
				Status   string `json:"status"`
				Progress struct {
					TotalTests int `json:"totalTests"`
					DoneTests  int `json:"doneTests"`
				} `json:"progress"`
				Evaluation *struct {
					Verdict string `json:"verdict"`
				} `json:"evaluation"`
			} `json:"data"`
		}
		if err := json.Unmarshal(body, &resp); err != nil || resp.Data.Status == "" {
			return ""
		}
		line := fmt.Sprintf("status: %s (%d/%d)", infoStyle.Sprint(resp.Data.Status), resp.Data.Progress.DoneTests, resp.Data.Progress.TotalTests)
		if resp.Data.Evaluation != nil {
			line += " verdict: " + ColorVerdict(resp.Data.Evaluation.Verdict)
		}
		return line
	}
	return ""
}
