package mcp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"

	"github.com/a3tai/pdfconvd/internal/config"
	"github.com/a3tai/pdfconvd/internal/convert"
	"github.com/a3tai/pdfconvd/internal/descriptions"
)

// ToolConvert is the name of the conversion tool
const ToolConvert = "pdf_convert"

// Converter runs one conversion
type Converter interface {
	Convert(ctx context.Context, data []byte) (*convert.Response, error)
}

// Server represents the MCP server instance
type Server struct {
	config    *config.Config
	converter Converter
	logger    zerolog.Logger
	mcpServer *server.MCPServer
}

// NewServer creates a new MCP server instance
func NewServer(cfg *config.Config, converter Converter, logger zerolog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if converter == nil {
		return nil, fmt.Errorf("converter cannot be nil")
	}

	mcpServer := server.NewMCPServer(
		cfg.ServerName,
		cfg.Version,
		server.WithToolCapabilities(false),
	)

	s := &Server{
		config:    cfg,
		converter: converter,
		logger:    logger,
		mcpServer: mcpServer,
	}

	s.registerTools()

	return s, nil
}

func (s *Server) registerTools() {
	convertTool := mcp.NewTool(
		ToolConvert,
		mcp.WithDescription(descriptions.GetToolDescription(ToolConvert)),
		mcp.WithString("data",
			mcp.Required(),
			mcp.Description(descriptions.PDFConvertDataDescription),
		),
	)
	s.mcpServer.AddTool(convertTool, s.handleConvert)
}

func (s *Server) handleConvert(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	encoded, err := request.RequireString("data")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	encoded = strings.TrimSpace(encoded)
	if encoded == "" {
		return mcp.NewToolResultError(convert.LabelNoData), nil
	}

	// DecodedLen over-counts by up to two bytes of padding
	if limit := s.config.MaxBodySize; limit > 0 && int64(base64.StdEncoding.DecodedLen(len(encoded))) > limit+2 {
		return mcp.NewToolResultError("PDF exceeds maximum size"), nil
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid base64 data: %v", err)), nil
	}
	if limit := s.config.MaxBodySize; limit > 0 && int64(len(data)) > limit {
		return mcp.NewToolResultError("PDF exceeds maximum size"), nil
	}

	resp, err := s.converter.Convert(ctx, data)
	if err != nil {
		if errors.Is(err, convert.ErrNoData) {
			return mcp.NewToolResultError(convert.LabelNoData), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("%s: %v", convert.LabelParseFailed, err)), nil
	}

	out, err := json.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("failed to encode response: %w", err)
	}

	return mcp.NewToolResultText(string(out)), nil
}

// Run serves MCP over the process's stdin and stdout until ctx is cancelled
// or stdin is closed
func (s *Server) Run(ctx context.Context) error {
	return s.Serve(ctx, os.Stdin, os.Stdout)
}

// Serve serves MCP over the given streams
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	s.logger.Info().
		Str("server", s.config.ServerName).
		Str("version", s.config.Version).
		Msg("Starting MCP server on stdio")

	stdio := server.NewStdioServer(s.mcpServer)
	stdio.SetErrorLogger(log.New(s.logger, "", 0))

	err := stdio.Listen(ctx, in, out)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to serve stdio: %w", err)
	}
	return nil
}
