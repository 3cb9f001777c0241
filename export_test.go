package steward

// Internal helpers exported for testing.
var (
	ExtractJSONBlock  = extractJSONBlock
	TrimRefinedPrompt = trimRefinedPrompt
	IsTransientError  = isTransientError
	MergeSources      = mergeSources
	ResponseText      = responseText
)
