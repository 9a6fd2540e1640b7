// Package inco 提供 INCO 机密计算服务的 HTTP 客户端。
// 收益分配证明在 INCO 侧以机密输入计算，客户端负责错误分类与本地熔断。
package inco

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/futurerent/futurerent-chain/pkg/circuitbreaker"
)

// StatusValid 计算成功时 INCO 返回的状态值
const StatusValid = "VALID"

// ErrCircuitOpen 熔断器打开，调用被本地拒绝，未发起网络请求
var ErrCircuitOpen = circuitbreaker.ErrCircuitOpen

// TransientError 瞬时错误：网络故障、超时或远端 5xx，调用方可以重试
type TransientError struct {
	Message string
	Err     error
}

func (e *TransientError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("inco transient error: %s: %v", e.Message, e.Err)
	}
	return "inco transient error: " + e.Message
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// PermanentError 永久错误：远端 4xx (请求或鉴权问题)，调用方不应重试
type PermanentError struct {
	StatusCode int
	Body       string
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("inco request failed %d: %s", e.StatusCode, e.Body)
}

// IsTransient 判断错误是否可重试
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsPermanent 判断错误是否为永久错误
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// ComputeRequest 机密计算请求
type ComputeRequest struct {
	Program       string         `json:"program"`
	PublicInputs  map[string]any `json:"publicInputs"`
	PrivateInputs map[string]any `json:"privateInputs"`
	Meta          map[string]any `json:"meta"`
}

// PublicOutput 计算的公开输出
type PublicOutput struct {
	Commitment string `json:"commitment"`
}

// ComputeResponse 机密计算响应
type ComputeResponse struct {
	Status       string        `json:"status"`
	ProofID      string        `json:"proofId"`
	ProofIDSnake string        `json:"proof_id,omitempty"`
	PublicOutput *PublicOutput `json:"publicOutput"`
	Proof        string        `json:"proof"`
}

// Commitment 返回公开输出中的承诺值，缺失时为空串
func (r *ComputeResponse) Commitment() string {
	if r.PublicOutput == nil {
		return ""
	}
	return r.PublicOutput.Commitment
}

// Config 客户端配置
type Config struct {
	BaseURL          string
	APIKey           string
	Timeout          time.Duration
	FailureThreshold int
	Cooldown         time.Duration
}

// Client INCO 机密计算客户端，带本地熔断保护。
// 熔断状态为单实例本地状态，不做跨实例协调。
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	breaker *circuitbreaker.CircuitBreaker
}

// NewClient 创建 INCO 客户端
func NewClient(cfg *Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	cbConfig := circuitbreaker.DefaultConfig()
	if cfg.FailureThreshold > 0 {
		cbConfig.FailureThreshold = cfg.FailureThreshold
	}
	if cfg.Cooldown > 0 {
		cbConfig.Cooldown = cfg.Cooldown
	}

	return &Client{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: timeout},
		breaker: circuitbreaker.New(cbConfig),
	}
}

// BreakerState 返回当前熔断器状态
func (c *Client) BreakerState() circuitbreaker.State {
	return c.breaker.State()
}

// Compute 调用 INCO /compute 执行一次机密计算。
// meta 中缺少 requestId 时自动生成。错误分类规则：
//   - 5xx / 网络故障 / 超时 → TransientError
//   - 4xx → PermanentError
//   - 熔断打开 → ErrCircuitOpen (不发起网络请求)
//
// 无论瞬时还是永久错误都会累计熔断失败计数。
func (c *Client) Compute(ctx context.Context, program string, publicInputs, privateInputs, meta map[string]any) (*ComputeResponse, error) {
	if err := c.breaker.Allow(); err != nil {
		return nil, err
	}

	if meta == nil {
		meta = make(map[string]any)
	}
	if _, ok := meta["requestId"]; !ok {
		meta["requestId"] = uuid.NewString()
	}

	payload := &ComputeRequest{
		Program:       program,
		PublicInputs:  publicInputs,
		PrivateInputs: privateInputs,
		Meta:          meta,
	}

	resp, err := c.post(ctx, "/compute", payload)
	if err != nil {
		c.breaker.Failure()
		return nil, err
	}

	c.breaker.Success()
	return resp, nil
}

func (c *Client) post(ctx context.Context, path string, payload *ComputeRequest) (*ComputeResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, &PermanentError{StatusCode: 0, Body: err.Error()}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, &PermanentError{StatusCode: 0, Body: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	httpResp, err := c.http.Do(req)
	if err != nil {
		return nil, &TransientError{Message: "network/timeout", Err: err}
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, &TransientError{Message: "read response", Err: err}
	}

	if httpResp.StatusCode >= 500 {
		return nil, &TransientError{Message: fmt.Sprintf("server error %d", httpResp.StatusCode)}
	}
	if httpResp.StatusCode >= 400 {
		return nil, &PermanentError{StatusCode: httpResp.StatusCode, Body: string(respBody)}
	}

	var result ComputeResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, &TransientError{Message: "decode response", Err: err}
	}
	if result.ProofID == "" {
		result.ProofID = result.ProofIDSnake
	}

	return &result, nil
}
