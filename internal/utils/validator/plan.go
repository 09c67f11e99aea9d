package validator

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/feichai0017/plan-takeoff/pkg/logger"
)

var (
	ErrNotPDF       = errors.New("file is not a PDF")
	ErrFileTooLarge = errors.New("file exceeds maximum size")
	ErrEmptyFile    = errors.New("file is empty")
	ErrTooManyPages = errors.New("page count exceeds maximum")
)

// PlanValidator 图纸文件验证器
type PlanValidator struct {
	logger logger.Logger
	config *ValidatorConfig
}

// ValidatorConfig 验证器配置
type ValidatorConfig struct {
	MaxFileSize  int64 // 最大文件大小（字节）
	MaxPageCount int   // PDF最大页数, 0 表示不限制
}

// ValidationResult is returned for accepted files. Warnings are problems
// that do not reject the file.
type ValidationResult struct {
	FileInfo FileInfo `json:"fileInfo"`
	Warnings []string `json:"warnings,omitempty"`
}

// FileInfo 文件信息
type FileInfo struct {
	Size      int64  `json:"size"`
	MimeType  string `json:"mimeType"`
	Hash      string `json:"hash"`
	PageCount int    `json:"pageCount"`
}

func NewPlanValidator(log logger.Logger, config *ValidatorConfig) *PlanValidator {
	if config == nil {
		config = &ValidatorConfig{
			MaxFileSize:  500 * 1024 * 1024,
			MaxPageCount: 2000,
		}
	}
	return &PlanValidator{
		logger: log.Named("validator"),
		config: config,
	}
}

// Validate rejects empty, oversized and non-PDF input. A page count that
// pdfcpu cannot determine is a warning and leaves PageCount at zero.
func (v *PlanValidator) Validate(data []byte) (*ValidationResult, error) {
	size := int64(len(data))
	if size == 0 {
		return nil, ErrEmptyFile
	}
	if v.config.MaxFileSize > 0 && size > v.config.MaxFileSize {
		return nil, fmt.Errorf("%w: %d > %d bytes", ErrFileTooLarge, size, v.config.MaxFileSize)
	}

	head := data
	if len(head) > 512 {
		head = head[:512]
	}
	mimeType := http.DetectContentType(head)
	if mimeType != "application/pdf" {
		return nil, fmt.Errorf("%w: detected %s", ErrNotPDF, mimeType)
	}

	sum := sha256.Sum256(data)
	result := &ValidationResult{
		FileInfo: FileInfo{
			Size:     size,
			MimeType: mimeType,
			Hash:     hex.EncodeToString(sum[:]),
		},
	}

	count, err := v.pageCount(data)
	if err != nil {
		v.logger.Warn("Failed to read page count", logger.Error(err))
		result.Warnings = append(result.Warnings, fmt.Sprintf("page count unavailable: %v", err))
		return result, nil
	}
	if v.config.MaxPageCount > 0 && count > v.config.MaxPageCount {
		return nil, fmt.Errorf("%w: %d > %d", ErrTooManyPages, count, v.config.MaxPageCount)
	}
	result.FileInfo.PageCount = count
	return result, nil
}

func (v *PlanValidator) pageCount(data []byte) (count int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pdfcpu panic: %v", r)
		}
	}()
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return api.PageCount(bytes.NewReader(data), conf)
}
