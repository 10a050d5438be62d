package descriptions

// Tool and argument descriptions shown to MCP clients

const (
	PDFConvertDescription = `Convert a PDF document into JSON: simplified metadata, the full extracted text, its length and its word count.

**When to use:** You hold the bytes of a PDF (an upload, an attachment, a download) and need its text or its information dictionary.

**Input:** the whole document, base64 encoded, in the "data" argument. No file paths are read.

**Output:** a JSON object with three parts:
• metadata: title, author, creator, producer, creationDate, modificationDate ("N/A" when absent) and pageCount
• content: fullText (each page preceded by a blank line), textLength in UTF-16 code units, wordCount
• rawInfo: every information dictionary entry as found in the document

**Errors:** "No PDF data received" for an empty payload, "Failed to parse PDF: <reason>" when the document cannot be read, "PDF exceeds maximum size" above the configured limit.

**Notes:** scanned documents without a text layer convert successfully with an empty fullText.`

	PDFConvertDataDescription = "The PDF document, base64 encoded (standard alphabet, padded)"
)

// ToolDescriptions maps tool names to their descriptions
var ToolDescriptions = map[string]string{
	"pdf_convert": PDFConvertDescription,
}

// GetToolDescription returns the description for a tool
func GetToolDescription(toolName string) string {
	if desc, exists := ToolDescriptions[toolName]; exists {
		return desc
	}
	return "Tool description not available"
}
