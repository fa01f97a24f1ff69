package llm

import (
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/lgc202/gateway-kit/llm/schema"
)

// AccumulatePolicy 决定同一 generation id 的后续片段如何合并
type AccumulatePolicy int

const (
	// AccumulateAppend 把后续片段拼接到已有内容之后（默认）
	//
	// 上游必须只发送增量，重发已有前缀会导致内容重复。
	AccumulateAppend AccumulatePolicy = iota

	// AccumulateReplace 用最新片段覆盖已有内容，适用于每次重发完整内容的网关
	AccumulateReplace
)

func (p AccumulatePolicy) String() string {
	switch p {
	case AccumulateAppend:
		return "append"
	case AccumulateReplace:
		return "replace"
	default:
		return fmt.Sprintf("AccumulatePolicy(%d)", int(p))
	}
}

// ParseAccumulatePolicy 解析 "append" / "replace"，空串视为 append
func ParseAccumulatePolicy(s string) (AccumulatePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "append":
		return AccumulateAppend, nil
	case "replace":
		return AccumulateReplace, nil
	default:
		return AccumulateAppend, fmt.Errorf("unknown accumulation policy %q", s)
	}
}

// GenerationAccumulator 在一次会话内按 generation id 聚合片段
//
// 输出顺序为 id 首次出现的顺序。非并发安全，由所属 Session 独占使用。
type GenerationAccumulator struct {
	policy AccumulatePolicy

	order []string
	byID  map[string]*schema.Generation

	responseID string
	params     schema.ResponseParameters
	usage      *schema.Usage
}

func NewGenerationAccumulator(policy AccumulatePolicy) *GenerationAccumulator {
	return &GenerationAccumulator{
		policy: policy,
		byID:   make(map[string]*schema.Generation),
	}
}

func (a *GenerationAccumulator) Policy() AccumulatePolicy { return a.policy }

// Add 合并一个 generation 片段
func (a *GenerationAccumulator) Add(g schema.Generation) {
	cur, ok := a.byID[g.ID]
	if !ok {
		cp := g
		cp.ToolInvocations = slices.Clone(g.ToolInvocations)
		a.byID[g.ID] = &cp
		a.order = append(a.order, g.ID)
		return
	}

	switch a.policy {
	case AccumulateReplace:
		cur.Content = g.Content
		if len(g.ToolInvocations) > 0 {
			cur.ToolInvocations = slices.Clone(g.ToolInvocations)
		}
	default:
		cur.Content += g.Content
		cur.ToolInvocations = append(cur.ToolInvocations, g.ToolInvocations...)
	}

	if cur.Role == "" {
		cur.Role = g.Role
	}
	if g.FinishReason != "" {
		cur.FinishReason = g.FinishReason
	}
	if g.Index != nil {
		cur.Index = g.Index
	}
	if g.LogProbability != nil {
		cur.LogProbability = g.LogProbability
	}
	if g.Timestamp != 0 {
		cur.Timestamp = g.Timestamp
	}
}

// AddBatch 合并一个数据块中的全部 generation，并记录响应级元数据
func (a *GenerationAccumulator) AddBatch(b schema.GenerationBatch) {
	a.AddParameters(b.ResponseID, b.Parameters)
	for _, g := range b.Generations {
		a.Add(g)
	}
}

// AddParameters 只记录响应级元数据（响应 id、model、usage 等），后到的非空值覆盖先到的
func (a *GenerationAccumulator) AddParameters(responseID string, p *schema.ResponseParameters) {
	if responseID != "" && a.responseID == "" {
		a.responseID = responseID
	}
	if p == nil {
		return
	}
	if p.Provider != "" {
		a.params.Provider = p.Provider
	}
	if p.Model != "" {
		a.params.Model = p.Model
	}
	if p.Created != 0 {
		a.params.Created = p.Created
	}
	if p.SystemFingerprint != "" {
		a.params.SystemFingerprint = p.SystemFingerprint
	}
	if p.Object != "" {
		a.params.Object = p.Object
	}
	if p.Usage != nil {
		u := *p.Usage
		a.usage = &u
	}
}

// Len 返回已见过的不同 id 数量
func (a *GenerationAccumulator) Len() int { return len(a.order) }

// Generations 按首次出现顺序返回聚合后的 generation 副本
func (a *GenerationAccumulator) Generations() []schema.Generation {
	out := make([]schema.Generation, 0, len(a.order))
	for _, id := range a.order {
		g := *a.byID[id]
		g.ToolInvocations = slices.Clone(g.ToolInvocations)
		out = append(out, g)
	}
	return out
}

// Messages 按首次出现顺序返回聚合后的消息，结果非 nil
//
// 缺少角色的 generation 视为 assistant。
func (a *GenerationAccumulator) Messages() []schema.Message {
	out := make([]schema.Message, 0, len(a.order))
	for _, id := range a.order {
		g := a.byID[id]
		out = append(out, schema.Message{Role: roleOrAssistant(g.Role), Content: g.Content})
	}
	return out
}

// Usage 返回最后一次见到的 usage，未见过时为零值
func (a *GenerationAccumulator) Usage() schema.Usage {
	if a.usage == nil {
		return schema.Usage{}
	}
	return *a.usage
}

// Response 把聚合结果转换为 ChatResponse，每个 generation 一个 Choice
func (a *GenerationAccumulator) Response() schema.ChatResponse {
	resp := schema.ChatResponse{
		ID:      a.responseID,
		Model:   a.params.Model,
		Choices: make([]schema.Choice, 0, len(a.order)),
		Usage:   a.Usage(),
	}
	if a.params.Created > 0 {
		resp.CreatedAt = time.Unix(a.params.Created, 0).UTC()
	}
	for i, id := range a.order {
		g := a.byID[id]
		idx := i
		if g.Index != nil {
			idx = *g.Index
		}
		resp.Choices = append(resp.Choices, schema.Choice{
			Index:           idx,
			GenerationID:    g.ID,
			Message:         schema.Message{Role: roleOrAssistant(g.Role), Content: g.Content},
			FinishReason:    g.FinishReason,
			ToolInvocations: slices.Clone(g.ToolInvocations),
		})
	}
	return resp
}

func roleOrAssistant(r schema.Role) schema.Role {
	if r == "" {
		return schema.RoleAssistant
	}
	return r
}

// DrainStream 读取整个流并聚合为 ChatResponse，返回前关闭流
//
// DONE 之后的数据不再读取；流中的 ErrorSignal 作为 *StreamError 返回。
func DrainStream(stream Stream, policy AccumulatePolicy) (schema.ChatResponse, error) {
	defer stream.Close()

	acc := NewGenerationAccumulator(policy)
recv:
	for {
		ev, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return schema.ChatResponse{}, err
		}

		switch e := ev.(type) {
		case schema.GenerationBatch:
			acc.AddBatch(e)
		case schema.ErrorSignal:
			return schema.ChatResponse{}, &StreamError{Code: e.Code, Message: e.Message}
		case schema.DoneSignal:
			break recv
		}
	}
	return acc.Response(), nil
}
