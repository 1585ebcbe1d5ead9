package main

import "time"

// API response shapes, mirroring the daemon's JSON.

type branchInfo struct {
	ID            uint   `json:"id"`
	ComponentKey  string `json:"componentKey"`
	ProjectKey    string `json:"projectKey"`
	Name          string `json:"name"`
	Status        string `json:"status"`
	Version       string `json:"version"`
	AutoIncrement string `json:"autoIncrementPolicy"`
	PathPattern   string `json:"pathPattern,omitempty"`
	Description   string `json:"description,omitempty"`
}

type branchList struct {
	Items []branchInfo `json:"items"`
}

type ledgerEntry struct {
	BranchID        uint       `json:"branchId"`
	LatestBuild     string     `json:"latestBuild"`
	LastCheckedTime *time.Time `json:"lastCheckedTime,omitempty"`
	LastSuccessTime *time.Time `json:"lastSuccessTime,omitempty"`
	LastStatus      string     `json:"lastStatus"`
	LastError       string     `json:"lastError,omitempty"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

type ledgerList struct {
	Items []ledgerEntry `json:"items"`
}

type auditEvent struct {
	ID        string    `json:"id"`
	BranchID  *uint     `json:"branchId,omitempty"`
	Severity  string    `json:"severity"`
	Category  string    `json:"category"`
	Detail    string    `json:"detail"`
	CreatedAt time.Time `json:"createdAt"`
}

type auditEventList struct {
	Items         []auditEvent `json:"items"`
	NextPageToken string       `json:"nextPageToken,omitempty"`
	TotalSize     int          `json:"totalSize"`
}
