package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"stockqa/internal/app"
	"stockqa/internal/rag"
	"stockqa/internal/transport/http/response"
)

const maxBatchSize = 500

// RAGService is what the chat endpoints need from the application layer.
type RAGService interface {
	Answer(ctx context.Context, question, stockCode string) (*rag.Answer, error)
	Index(ctx context.Context, stockCode string) (*app.IndexResult, error)
	IndexMany(ctx context.Context, stockCodes []string) []app.IndexItemResult
	RequestIndex(ctx context.Context, stockCodes []string) (string, error)
	DeleteIndex(ctx context.Context, stockCode string) error
	Count(ctx context.Context) (int64, error)
}

type RAGHandler struct {
	ragService RAGService
	collection string
}

type ChatRequest struct {
	Question  string `json:"question" binding:"required"`
	StockCode string `json:"stock_code"`
}

type IndexRequest struct {
	StockCode string `json:"stock_code" binding:"required"`
}

type BatchIndexRequest struct {
	StockCodes []string `json:"stock_codes" binding:"required,min=1"`
}

// AsyncIndexRequest with no stock codes re-indexes every company.
type AsyncIndexRequest struct {
	StockCodes []string `json:"stock_codes"`
}

func NewRAGHandler(ragService RAGService, collection string) *RAGHandler {
	return &RAGHandler{ragService: ragService, collection: collection}
}

func (h *RAGHandler) Chat(c *gin.Context) {
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}
	answer, err := h.ragService.Answer(c.Request.Context(), req.Question, req.StockCode)
	if err != nil {
		writeError(c, err)
		return
	}
	response.OK(c, answer)
}

func (h *RAGHandler) Index(c *gin.Context) {
	var req IndexRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}
	result, err := h.ragService.Index(c.Request.Context(), req.StockCode)
	if err != nil {
		writeError(c, err)
		return
	}
	response.OK(c, result)
}

func (h *RAGHandler) IndexBatch(c *gin.Context) {
	var req BatchIndexRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}
	if len(req.StockCodes) > maxBatchSize {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "too many stock codes")
		return
	}
	results := h.ragService.IndexMany(c.Request.Context(), req.StockCodes)
	response.OK(c, gin.H{"results": results})
}

func (h *RAGHandler) IndexAsync(c *gin.Context) {
	var req AsyncIndexRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}
	requestID, err := h.ragService.RequestIndex(c.Request.Context(), req.StockCodes)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, response.APIResponse{
		Code:    response.CodeOK,
		Message: "accepted",
		Data:    gin.H{"request_id": requestID},
	})
}

func (h *RAGHandler) DeleteIndex(c *gin.Context) {
	stockCode := strings.TrimSpace(c.Param("stock_code"))
	if err := h.ragService.DeleteIndex(c.Request.Context(), stockCode); err != nil {
		writeError(c, err)
		return
	}
	response.OK(c, gin.H{"deleted_stock_code": stockCode})
}

func (h *RAGHandler) Stats(c *gin.Context) {
	n, err := h.ragService.Count(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	response.OK(c, gin.H{
		"total_documents": n,
		"collection_name": h.collection,
	})
}

// writeError maps service errors onto HTTP statuses. Messages of internal
// errors are not echoed to the client.
func writeError(c *gin.Context, err error) {
	kind := rag.KindOf(err)
	switch {
	case errors.Is(err, app.ErrAsyncIndexDisabled):
		response.Error(c, http.StatusServiceUnavailable, response.CodeAsyncIndexDisabled, err.Error())
	case kind == rag.KindInvalidInput:
		response.KindError(c, http.StatusBadRequest, response.CodeBadRequest, kind, err.Error())
	case kind == rag.KindNotFound:
		response.KindError(c, http.StatusNotFound, response.CodeNotFound, kind, err.Error())
	case kind == rag.KindInsufficientData:
		response.KindError(c, http.StatusUnprocessableEntity, response.CodeInsufficientData, kind, err.Error())
	case kind == rag.KindIndexUnavailable:
		response.KindError(c, http.StatusServiceUnavailable, response.CodeIndexUnavailable, kind, "vector index unavailable")
	case kind == rag.KindEmbedding:
		response.KindError(c, http.StatusBadGateway, response.CodeEmbeddingFailed, kind, "embedding failed")
	case kind == rag.KindGeneration && rag.IsTimeout(err):
		response.KindError(c, http.StatusGatewayTimeout, response.CodeGenerationTimeout, kind, "answer generation timed out")
	case kind == rag.KindGeneration:
		response.KindError(c, http.StatusBadGateway, response.CodeGenerationFailed, kind, "answer generation failed")
	default:
		response.KindError(c, http.StatusInternalServerError, response.CodeInternalServer, rag.KindInternal, "internal server error")
	}
}
