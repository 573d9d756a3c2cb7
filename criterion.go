package retrieve

import (
	"strings"
	"time"
)

// Code is a terminology code qualified by its code system.
type Code struct {
	System string `json:"system,omitempty"`
	Code   string `json:"code"`
}

// String returns the token form "system|code", or the bare code when no
// system is set.
func (c Code) String() string {
	if c.System == "" {
		return c.Code
	}
	return c.System + "|" + c.Code
}

// DateRange is a closed interval. A zero bound is open.
type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Criterion is one retrieve request.
type Criterion struct {
	DataType string `json:"dataType"`

	ContextType  string `json:"contextType,omitempty"`
	ContextPath  string `json:"contextPath,omitempty"`
	ContextValue string `json:"contextValue,omitempty"`

	TemplateID string `json:"templateId,omitempty"`

	CodePath   string `json:"codePath,omitempty"`
	Codes      []Code `json:"codes,omitempty"`
	ValueSetID string `json:"valueSetId,omitempty"`

	DatePath     string     `json:"datePath,omitempty"`
	DateLowPath  string     `json:"dateLowPath,omitempty"`
	DateHighPath string     `json:"dateHighPath,omitempty"`
	DateRange    *DateRange `json:"dateRange,omitempty"`
}

// HasContext reports whether all three context inputs are present.
func (c Criterion) HasContext() bool {
	return c.ContextType != "" && c.ContextPath != "" && c.ContextValue != ""
}

// HasTemplate reports whether a non-blank template is requested.
func (c Criterion) HasTemplate() bool {
	return strings.TrimSpace(c.TemplateID) != ""
}

// HasTerminology reports whether the criterion constrains a coded element.
func (c Criterion) HasTerminology() bool {
	return c.CodePath != "" && (len(c.Codes) > 0 || c.ValueSetID != "")
}

// HasDatePath reports whether any date path is set.
func (c Criterion) HasDatePath() bool {
	return c.DatePath != "" || c.DateLowPath != "" || c.DateHighPath != ""
}

// Validate checks the invariants that make a criterion resolvable.
// All failures are configuration errors.
func (c Criterion) Validate() error {
	if c.DataType == "" {
		return &ConfigError{Field: "dataType", Reason: "is required"}
	}
	if c.DatePath != "" && (c.DateLowPath != "" || c.DateHighPath != "") {
		return &ConfigError{Field: "datePath", Reason: "cannot be combined with dateLowPath or dateHighPath"}
	}
	if c.HasDatePath() && c.DateRange == nil {
		return &ConfigError{Field: "dateRange", Reason: "must be provided when a date path is set"}
	}
	if !c.HasDatePath() && c.DateRange != nil {
		return &ConfigError{Field: "datePath", Reason: "a date path must be provided"}
	}
	return nil
}
