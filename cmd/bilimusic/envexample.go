package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

const sectionRule = "# -----------------------------------------------------------------------------\n"

func generateEnvExample(cmd *cobra.Command) error {
	fmt.Fprintln(cmd.OutOrStdout(), "Generating .env.example file from current configuration...")

	content := generateEnvExampleContent(cmd.Root())

	if err := os.WriteFile(".env.example", []byte(content), 0600); err != nil {
		return fmt.Errorf("failed to write .env.example: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), "✅ Successfully generated .env.example file")
	return nil
}

func generateEnvExampleContent(cmd *cobra.Command) string {
	var content strings.Builder

	content.WriteString("# =============================================================================\n")
	content.WriteString("# bilimusic Configuration\n")
	content.WriteString("# =============================================================================\n")
	content.WriteString("#\n")
	content.WriteString("# Copy this file to .env and update with your values\n")
	content.WriteString("# All environment variables have CLI flag equivalents (use --help to see them)\n")
	content.WriteString("#\n")
	content.WriteString("# Format: BILIMUSIC_<SETTING>=value\n")
	content.WriteString("# CLI equivalent: --<setting>\n")
	content.WriteString("#\n\n")

	generateBilibiliSection(&content, cmd)
	generateMediaSection(&content, cmd)
	generateLLMSection(&content, cmd)
	generateAppSection(&content, cmd)
	generateServerSection(&content, cmd)
	generateLoggingSection(&content, cmd)
	generateQuickSetupGuide(&content)

	return content.String()
}

func flagToEnvVar(flagName string) string {
	return envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(flagName, "-", "_"))
}

func getDefaultValueString(cmd *cobra.Command, flagName string) string {
	if f := cmd.PersistentFlags().Lookup(flagName); f != nil {
		return f.DefValue
	}
	return ""
}

// writeSetting writes one commented setting line using the flag's default.
func writeSetting(content *strings.Builder, cmd *cobra.Command, flagName, description string) {
	def := getDefaultValueString(cmd, flagName)
	fmt.Fprintf(content, "%s=%s    # %s (default: %q)\n", flagToEnvVar(flagName), def, description, def)
}

func writeSectionHeader(content *strings.Builder, title string, flags ...string) {
	content.WriteString(sectionRule)
	fmt.Fprintf(content, "# %s\n", title)
	content.WriteString(sectionRule)
	if len(flags) > 0 {
		cliFlags := make([]string, len(flags))
		for i, f := range flags {
			cliFlags[i] = "--" + f
		}
		fmt.Fprintf(content, "# CLI: %s\n", strings.Join(cliFlags, ", "))
	}
}

func generateBilibiliSection(content *strings.Builder, cmd *cobra.Command) {
	writeSectionHeader(content, "Bilibili", "api-base-url", "user-agent", "short-link-timeout", "api-timeout")
	writeSetting(content, cmd, "api-base-url", "Web API host")
	writeSetting(content, cmd, "user-agent", "Browser User-Agent sent with every request")
	writeSetting(content, cmd, "short-link-timeout", "Timeout for following a b23.tv link")
	writeSetting(content, cmd, "api-timeout", "Timeout for each API call")
	content.WriteString("\n")
}

func generateMediaSection(content *strings.Builder, cmd *cobra.Command) {
	writeSectionHeader(content, "Media", "ffmpeg-path", "format", "download-timeout", "mux-timeout", "temp-dir", "output-dir")
	writeSetting(content, cmd, "ffmpeg-path", "ffmpeg binary, looked up in PATH when not absolute")
	writeSetting(content, cmd, "format", "Output format: mp3 (re-encoded) or m4a (stream copy)")
	writeSetting(content, cmd, "download-timeout", "Timeout for each audio or cover download")
	writeSetting(content, cmd, "mux-timeout", "Timeout for one ffmpeg run")
	writeSetting(content, cmd, "temp-dir", "Scratch directory, empty means the system temp dir")
	writeSetting(content, cmd, "output-dir", "Directory receiving files written by `bilimusic get`")
	content.WriteString("\n")
}

func generateLLMSection(content *strings.Builder, cmd *cobra.Command) {
	writeSectionHeader(content, "Title suggestions (optional)", "llm-provider", "llm-api-key", "llm-model", "llm-base-url", "llm-timeout")
	writeSetting(content, cmd, "llm-provider", "Provider: none, openai, anthropic, ollama")
	writeSetting(content, cmd, "llm-timeout", "Timeout for one suggestion")
	content.WriteString("\n")
	content.WriteString("# OpenAI: set the provider to openai\n")
	fmt.Fprintf(content, "# %s=sk-...\n", flagToEnvVar("llm-api-key"))
	fmt.Fprintf(content, "# %s=gpt-4o-mini\n", flagToEnvVar("llm-model"))
	content.WriteString("\n")
	content.WriteString("# Anthropic: set the provider to anthropic\n")
	fmt.Fprintf(content, "# %s=sk-ant-...\n", flagToEnvVar("llm-api-key"))
	fmt.Fprintf(content, "# %s=claude-3-5-haiku-latest\n", flagToEnvVar("llm-model"))
	content.WriteString("\n")
	content.WriteString("# Ollama: set the provider to ollama, no key needed\n")
	fmt.Fprintf(content, "# %s=http://localhost:11434\n", flagToEnvVar("llm-base-url"))
	fmt.Fprintf(content, "# %s=llama3.2\n", flagToEnvVar("llm-model"))
	content.WriteString("\n")
}

func generateAppSection(content *strings.Builder, cmd *cobra.Command) {
	writeSectionHeader(content, "Application", "language", "flood-limit-per-minute")
	writeSetting(content, cmd, "language", "Interface language: zh, en")
	writeSetting(content, cmd, "flood-limit-per-minute", "API requests per client per minute, 0 disables")
	content.WriteString("\n")
}

func generateServerSection(content *strings.Builder, cmd *cobra.Command) {
	writeSectionHeader(content, "HTTP Server", "server-host", "server-port")
	writeSetting(content, cmd, "server-host", "Bind address")
	writeSetting(content, cmd, "server-port", "Port")
	content.WriteString("\n")
}

func generateLoggingSection(content *strings.Builder, cmd *cobra.Command) {
	writeSectionHeader(content, "Logging", "log-level", "log-format")
	writeSetting(content, cmd, "log-level", "Log level: debug, info, warn, error")
	writeSetting(content, cmd, "log-format", "Log format: json, text")
	content.WriteString("\n")
}

func generateQuickSetupGuide(content *strings.Builder) {
	content.WriteString("# =============================================================================\n")
	content.WriteString("# QUICK SETUP GUIDE\n")
	content.WriteString("# =============================================================================\n")
	content.WriteString("#\n")
	content.WriteString("# 1. Install ffmpeg and make sure `ffmpeg -version` works\n")
	content.WriteString("# 2. Start the web interface:   bilimusic\n")
	content.WriteString("#    then open http://127.0.0.1:8501 and paste a share link\n")
	content.WriteString("# 3. Or convert from the shell: bilimusic get \"https://b23.tv/xxxx\"\n")
	content.WriteString("#\n")
	content.WriteString("# Issue: \"ffmpeg not found\"\n")
	fmt.Fprintf(content, "# - Set %s to the absolute path of the binary\n", flagToEnvVar("ffmpeg-path"))
	content.WriteString("#\n")
	content.WriteString("# Issue: \"upstream error\" on every video\n")
	fmt.Fprintf(content, "# - Bilibili may reject the client, try a current browser %s\n", flagToEnvVar("user-agent"))
}
