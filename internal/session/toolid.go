package session

import (
	"regexp"
	"strings"
)

// toolIDMaxLen is the length budget for a namespaced tool ID, matching the
// identifier limits commonly enforced by LLM tool-calling APIs.
const toolIDMaxLen = 64

var toolIDInvalidChar = regexp.MustCompile(`[^A-Za-z0-9_.-]`)

// sanitizeToolIDPart rewrites s into the tool ID alphabet: characters outside
// [A-Za-z0-9_.-] become '_', a leading character that is not a letter or
// underscore gets a '_' prefix, and the result is capped at toolIDMaxLen.
func sanitizeToolIDPart(s string) string {
	s = toolIDInvalidChar.ReplaceAllString(s, "_")

	if s == "" || !isToolIDStart(s[0]) {
		s = "_" + s
	}

	if len(s) > toolIDMaxLen {
		s = s[:toolIDMaxLen]
	}

	return s
}

func isToolIDStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

// CreateToolID derives the namespaced ID under which a server's tool is
// aggregated: both parts are sanitized and joined with '_'. When the joined
// form would exceed the budget, the budget (minus the separator) is split
// between the parts proportionally to their lengths, floor division with the
// remainder going to the tool part.
func CreateToolID(serverName, toolName string) string {
	server := sanitizeToolIDPart(serverName)
	tool := sanitizeToolIDPart(toolName)

	if len(server)+len(tool)+1 > toolIDMaxLen {
		budget := toolIDMaxLen - 1
		serverShare := budget * len(server) / (len(server) + len(tool))
		toolShare := budget - serverShare

		if len(server) > serverShare {
			server = server[:serverShare]
		}
		if len(tool) > toolShare {
			tool = tool[:toolShare]
		}
	}

	return server + "_" + tool
}

// ExtractToolID splits a namespaced tool ID back into server and tool names
// at the first '_'. An ID without a separator is returned whole as the server
// name.
//
// The split is lossy for server names that were padded with a leading '_'
// during sanitization: the boundary between the two segments cannot always be
// recovered uniquely from the joined form. Callers that need an exact inverse
// must keep the original names alongside the ID.
func ExtractToolID(id string) (serverName, toolName string) {
	idx := strings.Index(id, "_")
	if idx < 0 {
		return id, ""
	}

	return id[:idx], id[idx+1:]
}
