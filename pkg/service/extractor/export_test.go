package extractor

var (
	BuildExtractionPrompt = buildExtractionPrompt
	BuildAnswerPrompt     = buildAnswerPrompt
)
