package einstein

import (
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/lgc202/gateway-kit/llm/schema"
	"github.com/lgc202/gateway-kit/llm/sse"
)

const (
	eventGeneration = "generation"
	eventError      = "error"

	doneToken = "DONE"
)

type wireChunk struct {
	ID                string `json:"id"`
	GenerationDetails struct {
		Generations []wireGeneration           `json:"generations"`
		Parameters  *schema.ResponseParameters `json:"parameters"`
	} `json:"generation_details"`
}

type wireGeneration struct {
	ID         string  `json:"id"`
	Role       string  `json:"role"`
	Content    string  `json:"content"`
	Timestamp  float64 `json:"timestamp"`
	Parameters struct {
		FinishReason string          `json:"finish_reason"`
		Index        *int            `json:"index"`
		Logprobs     json.RawMessage `json:"logprobs"`
	} `json:"parameters"`
	ToolInvocations []wireToolInvocation `json:"tool_invocations"`
}

// wireToolInvocation 兼容 {id,name,arguments} 与 {id,function:{name,arguments}} 两种形态，
// arguments 可能是字符串或 JSON 对象
type wireToolInvocation struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
	Function  *struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	} `json:"function"`
}

// Classify 把一条 SSE 记录分类为 GenerationBatch、DoneSignal、ErrorSignal 或 Unrecognized
//
// 只有 event 为 "generation" 的记录参与分类；data 为 DONE（或 ["DONE"]）时是 DoneSignal；
// data 必须是包含 generation_details.generations 数组的 JSON 对象，否则为 Unrecognized。
// 非法 JSON 不是错误。函数无副作用，同一输入总是得到相同输出。
func Classify(rec sse.Record) schema.StreamEvent {
	event := strings.TrimSpace(rec.Event)
	data := strings.TrimSpace(rec.Data)

	switch event {
	case eventGeneration:
	case eventError:
		return classifyError(data)
	default:
		return schema.Unrecognized{Event: rec.Event, Data: rec.Data}
	}

	if isDone(data) {
		return schema.DoneSignal{Raw: rawOf(data)}
	}
	if !gjson.Valid(data) {
		return schema.Unrecognized{Event: rec.Event, Data: rec.Data}
	}
	if !gjson.Get(data, "generation_details.generations").IsArray() {
		return schema.Unrecognized{Event: rec.Event, Data: rec.Data}
	}

	var chunk wireChunk
	if err := json.Unmarshal([]byte(data), &chunk); err != nil {
		return schema.Unrecognized{Event: rec.Event, Data: rec.Data}
	}

	batch := schema.GenerationBatch{
		ResponseID:  chunk.ID,
		Generations: make([]schema.Generation, 0, len(chunk.GenerationDetails.Generations)),
		Parameters:  chunk.GenerationDetails.Parameters,
		Raw:         json.RawMessage(data),
	}
	for _, g := range chunk.GenerationDetails.Generations {
		batch.Generations = append(batch.Generations, toGeneration(g))
	}
	return batch
}

// ClassifyJSON 分类由其他 SSE 解析器交付的 {"event": ..., "data": ...} 对象
//
// data 可以是 JSON 字符串（按原文处理）或任意 JSON 值。
func ClassifyJSON(b []byte) schema.StreamEvent {
	if !gjson.ValidBytes(b) {
		return schema.Unrecognized{Data: string(b)}
	}
	env := gjson.ParseBytes(b)
	if !env.IsObject() {
		return schema.Unrecognized{Data: string(b)}
	}

	rec := sse.Record{Event: env.Get("event").String()}
	if d := env.Get("data"); d.Type == gjson.String {
		rec.Data = d.Str
	} else {
		rec.Data = d.Raw
	}
	return Classify(rec)
}

func isDone(data string) bool {
	switch data {
	case doneToken, "[" + doneToken + "]":
		return true
	}
	if !gjson.Valid(data) {
		return false
	}
	v := gjson.Parse(data)
	switch {
	case v.Type == gjson.String:
		return v.Str == doneToken
	case v.IsArray():
		arr := v.Array()
		return len(arr) == 1 && arr[0].Type == gjson.String && arr[0].Str == doneToken
	}
	return false
}

func classifyError(data string) schema.StreamEvent {
	sig := schema.ErrorSignal{Raw: rawOf(data)}
	if gjson.Valid(data) {
		doc := gjson.Parse(data)
		if doc.IsArray() {
			doc = doc.Get("0")
		}
		sig.Message = firstString(doc, "error.message", "message", "detail")
		sig.Code = firstString(doc, "error.code", "errorCode", "code")
	}
	if sig.Message == "" {
		sig.Message = data
	}
	return sig
}

func firstString(doc gjson.Result, paths ...string) string {
	for _, p := range paths {
		r := doc.Get(p)
		switch r.Type {
		case gjson.String:
			if s := strings.TrimSpace(r.Str); s != "" {
				return s
			}
		case gjson.Number:
			return r.Raw
		}
	}
	return ""
}

func rawOf(data string) json.RawMessage {
	if !json.Valid([]byte(data)) {
		return nil
	}
	return json.RawMessage(data)
}

func toGeneration(g wireGeneration) schema.Generation {
	out := schema.Generation{
		ID:           g.ID,
		Role:         schema.Role(g.Role),
		Content:      g.Content,
		Timestamp:    g.Timestamp,
		FinishReason: schema.FinishReason(g.Parameters.FinishReason),
		Index:        g.Parameters.Index,
	}
	if lp := gjson.ParseBytes(g.Parameters.Logprobs); lp.Type == gjson.Number {
		v := lp.Float()
		out.LogProbability = &v
	}
	for _, ti := range g.ToolInvocations {
		inv := schema.ToolInvocation{ID: ti.ID, Name: ti.Name, Arguments: argumentsText(ti.Arguments)}
		if ti.Function != nil {
			if inv.Name == "" {
				inv.Name = ti.Function.Name
			}
			if inv.Arguments == "" {
				inv.Arguments = argumentsText(ti.Function.Arguments)
			}
		}
		out.ToolInvocations = append(out.ToolInvocations, inv)
	}
	return out
}

func argumentsText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	r := gjson.ParseBytes(raw)
	switch r.Type {
	case gjson.Null:
		return ""
	case gjson.String:
		return r.Str
	default:
		return r.Raw
	}
}
