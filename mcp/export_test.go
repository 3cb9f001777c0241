package mcp

var (
	ContentToMap        = contentToMap
	PropertyToParameter = propertyToParameter
	ToolToSpec          = toolToSpec
)
