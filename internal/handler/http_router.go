package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// submitIncomeBody 收益申报的 HTTP 请求体，沿用链下申报方的字段命名
type submitIncomeBody struct {
	AssetID       int64  `json:"assetId"`
	Period        string `json:"period"`
	IncomeAmount  string `json:"incomeAmount"`
	InvestorShare string `json:"investorShare"`
	OwnerShare    string `json:"ownerShare"`
}

// resyncBody 定向重同步请求体
type resyncBody struct {
	TokenID  int64  `json:"tokenId"`
	Investor string `json:"investor"`
}

// deleteInvestmentBody 删除投资记录请求体
type deleteInvestmentBody struct {
	TokenID  int64  `json:"tokenId"`
	Investor string `json:"investor"`
}

// NewRouter 构建 HTTP 路由：业务接口 + 管理接口 + /metrics
func NewRouter(admin *AdminHandler) http.Handler {
	mux := http.NewServeMux()

	// Prometheus metrics endpoint
	mux.Handle("/metrics", promhttp.Handler())

	// 健康检查 endpoint
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	mux.HandleFunc("POST /api/income/submit", func(w http.ResponseWriter, r *http.Request) {
		var body submitIncomeBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		result, err := admin.SubmitIncome(r.Context(), &SubmitIncomeRequest{
			AssetID:        body.AssetID,
			Period:         body.Period,
			IncomeAmount:   body.IncomeAmount,
			InvestorShare:  body.InvestorShare,
			OwnerShare:     body.OwnerShare,
			IdempotencyKey: r.Header.Get("Idempotency-Key"),
		})
		if err != nil {
			writeStatusError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "result": result})
	})

	mux.HandleFunc("GET /api/income/{id}", func(w http.ResponseWriter, r *http.Request) {
		sub, err := admin.GetSubmission(r.Context(), r.PathValue("id"))
		if err != nil {
			writeStatusError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "result": sub})
	})

	mux.HandleFunc("GET /api/income", func(w http.ResponseWriter, r *http.Request) {
		statusFilter := int32(-1)
		if s := r.URL.Query().Get("status"); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid status")
				return
			}
			statusFilter = int32(n)
		}
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))

		subs, err := admin.ListSubmissions(r.Context(), statusFilter, page, pageSize)
		if err != nil {
			writeStatusError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "result": subs})
	})

	mux.HandleFunc("GET /admin/investments", func(w http.ResponseWriter, r *http.Request) {
		investments, err := admin.ListInvestments(r.Context(), r.URL.Query().Get("investor"))
		if err != nil {
			writeStatusError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": investments})
	})

	mux.HandleFunc("POST /admin/sync", func(w http.ResponseWriter, r *http.Request) {
		result, err := admin.TriggerSync(r.Context())
		if err != nil {
			writeStatusError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "result": result})
	})

	mux.HandleFunc("POST /admin/resync", func(w http.ResponseWriter, r *http.Request) {
		var body resyncBody
		if r.ContentLength > 0 {
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				writeError(w, http.StatusBadRequest, "invalid request body")
				return
			}
		}

		result, err := admin.TriggerResync(r.Context(), body.TokenID, body.Investor)
		if err != nil {
			writeStatusError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "result": result})
	})

	mux.HandleFunc("DELETE /admin/investments", func(w http.ResponseWriter, r *http.Request) {
		var body deleteInvestmentBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		if err := admin.DeleteInvestment(r.Context(), body.TokenID, body.Investor); err != nil {
			writeStatusError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
	})

	return mux
}

// NewHTTPServer 创建带超时配置的 HTTP 服务器
func NewHTTPServer(addr string, router http.Handler) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 120 * time.Second, // 收益结算请求需要等待链上确认
	}
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]any{"ok": false, "error": msg})
}

// writeStatusError 将 gRPC 状态错误转换为 HTTP 响应
func writeStatusError(w http.ResponseWriter, err error) {
	st, ok := status.FromError(err)
	if !ok {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeError(w, httpStatusFromCode(st.Code()), st.Message())
}

func httpStatusFromCode(code codes.Code) int {
	switch code {
	case codes.OK:
		return http.StatusOK
	case codes.InvalidArgument:
		return http.StatusBadRequest
	case codes.NotFound:
		return http.StatusNotFound
	case codes.FailedPrecondition:
		return http.StatusUnprocessableEntity
	case codes.Unavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
