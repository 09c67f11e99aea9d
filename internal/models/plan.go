package models

import (
	"time"
)

// PlanStatus 图纸文档生命周期状态
type PlanStatus string

const (
	PlanStatusDraft      PlanStatus = "draft"
	PlanStatusProcessing PlanStatus = "processing"
	PlanStatusReady      PlanStatus = "ready"
)

// Plan is an uploaded construction plan set.
type Plan struct {
	ID             string     `json:"id"`
	JobID          string     `json:"jobId"`
	FileRef        string     `json:"fileRef"`
	FileName       string     `json:"fileName,omitempty"`
	PageCount      int        `json:"pageCount"`
	Status         PlanStatus `json:"status"`
	ErrorMessage   string     `json:"errorMessage,omitempty"`
	LinkedFileRefs []string   `json:"linkedFileRefs,omitempty"`
	ProjectName    string     `json:"projectName,omitempty"`
	ProjectAddress string     `json:"projectAddress,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

// ProjectInfo 从前几页识别出的项目信息
type ProjectInfo struct {
	PlanID  string `json:"planId"`
	JobID   string `json:"jobId,omitempty"`
	Name    string `json:"name,omitempty"`
	Address string `json:"address,omitempty"`
}
