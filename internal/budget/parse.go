package budget

import "github.com/tidwall/gjson"

// ParseUsageLine extracts a usage update from one worker JSONL line.
// Workers emit lines like:
//
//	{"type":"usage","input_tokens":1200,"output_tokens":340,"cost_usd":0.012}
//
// Returns ok=false for lines that are not usage records.
func ParseUsageLine(taskID string, attempt int, line []byte) (Usage, bool) {
	if !gjson.ValidBytes(line) {
		return Usage{}, false
	}
	doc := gjson.ParseBytes(line)
	if doc.Get("type").String() != "usage" {
		return Usage{}, false
	}
	return Usage{
		TaskID:        taskID,
		Attempt:       attempt,
		InputTokens:   doc.Get("input_tokens").Int(),
		OutputTokens:  doc.Get("output_tokens").Int(),
		EstimatedCost: doc.Get("cost_usd").Float(),
	}, true
}
