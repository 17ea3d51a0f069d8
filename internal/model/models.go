// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"fmt"
	"sort"
	"strings"
)

// =============================================================================
// MODEL INFO TYPE
// =============================================================================

// ModelInfo describes a well-known locally hosted model.
// Sessions may name any model; the catalog only drives suggestions and display.
type ModelInfo struct {
	// ID is the model tag passed to the backend
	ID string `json:"id"`

	// Family is the model family (llama, qwen, mistral, ...)
	Family string `json:"family"`

	// Quant is the quantization label, empty when unknown
	Quant string `json:"quant"`

	// ContextTokens is the native context window
	ContextTokens int `json:"context_tokens"`

	// Description is a brief explanation of the model's strengths
	Description string `json:"description"`
}

// =============================================================================
// MODEL CATALOG
// =============================================================================

// Catalog lists the models offered for selection.
var Catalog = []ModelInfo{
	{ID: "llama3.1:q4", Family: "llama", Quant: "q4", ContextTokens: 131072, Description: "General chat, small footprint"},
	{ID: "llama3.1:8b-q5", Family: "llama", Quant: "q5", ContextTokens: 131072, Description: "General chat, higher fidelity"},
	{ID: "qwen2.5:7b-q4", Family: "qwen", Quant: "q4", ContextTokens: 32768, Description: "Multilingual, strong CJK output"},
	{ID: "mistral:7b-instruct", Family: "mistral", ContextTokens: 32768, Description: "Instruction following"},
	{ID: "gemma2:9b", Family: "gemma", ContextTokens: 8192, Description: "Reasoning and summarization"},
	{ID: "phi3:mini", Family: "phi", ContextTokens: 4096, Description: "Fast answers on modest hardware"},
}

// ContextString returns a formatted context window string.
func (m ModelInfo) ContextString() string {
	if m.ContextTokens >= 1000 {
		return fmt.Sprintf("%dK tokens", m.ContextTokens/1024)
	}
	return fmt.Sprintf("%d tokens", m.ContextTokens)
}

// String returns "id (description)".
func (m ModelInfo) String() string {
	if m.Description == "" {
		return m.ID
	}
	return fmt.Sprintf("%s (%s)", m.ID, m.Description)
}

// =============================================================================
// MODEL LOOKUP FUNCTIONS
// =============================================================================

// GetModelInfo looks up a model by exact ID, then by case-insensitive prefix.
func GetModelInfo(id string) (ModelInfo, bool) {
	for _, info := range Catalog {
		if info.ID == id {
			return info, true
		}
	}

	lower := strings.ToLower(id)
	if lower == "" {
		return ModelInfo{}, false
	}
	for _, info := range Catalog {
		if strings.HasPrefix(strings.ToLower(info.ID), lower) {
			return info, true
		}
	}

	return ModelInfo{}, false
}

// GetModelsByFamily returns all catalog models of a family.
func GetModelsByFamily(family string) []ModelInfo {
	result := []ModelInfo{}
	for _, info := range Catalog {
		if strings.EqualFold(info.Family, family) {
			result = append(result, info)
		}
	}
	return result
}

// ModelIDs returns the sorted catalog IDs.
func ModelIDs() []string {
	ids := make([]string, 0, len(Catalog))
	for _, info := range Catalog {
		ids = append(ids, info.ID)
	}
	sort.Strings(ids)
	return ids
}
