package config

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// Wizard provides an interactive configuration wizard
type Wizard struct {
	reader *bufio.Reader
	out    io.Writer
}

// NewWizard creates a wizard on stdin/stdout.
func NewWizard() *Wizard {
	return NewWizardIO(os.Stdin, os.Stdout)
}

// NewWizardIO creates a wizard reading answers from in.
func NewWizardIO(in io.Reader, out io.Writer) *Wizard {
	return &Wizard{
		reader: bufio.NewReader(in),
		out:    out,
	}
}

// Run runs the interactive configuration wizard
func (w *Wizard) Run() (*Config, error) {
	w.println("=== specmgr Configuration Wizard ===")
	w.println()

	cfg := DefaultConfig()
	validator := NewValidator()

	// Documents
	path, err := w.ask(fmt.Sprintf("Documents directory [%s]: ", cfg.Documents.Path))
	if err != nil {
		return nil, err
	}
	if path != "" {
		cfg.Documents.Path = path
	}

	w.println()

	// Embedding provider
	w.println("Embedding provider options:")
	w.println("  openai - OpenAI embeddings API (default)")
	w.println("  ollama - local Ollama server")
	w.println("  hash   - deterministic offline vectors, for development")
	w.println("  none   - index zero vectors only")
	for {
		provider, err := w.ask(fmt.Sprintf("Provider [%s]: ", cfg.Embedding.Provider))
		if err != nil {
			return nil, err
		}
		if provider == "" {
			break
		}
		if err := validator.ValidateProvider(provider); err != nil {
			w.printf("Error: %v\n", err)
			continue
		}
		cfg.Embedding.Provider = provider
		break
	}

	switch cfg.Embedding.Provider {
	case "openai":
		for {
			key, err := w.ask("OpenAI API Key (press Enter to use OPENAI_API_KEY): ")
			if err != nil {
				return nil, err
			}
			if key == "" {
				break
			}
			if err := validator.ValidateAPIKey(key, "openai"); err != nil {
				w.printf("Error: %v\n", err)
				continue
			}
			cfg.Embedding.APIKey = key
			break
		}
	case "ollama":
		cfg.Embedding.Model = "nomic-embed-text"
		cfg.VectorDB.VectorSize = 768
		host, err := w.ask("Ollama host [http://localhost:11434]: ")
		if err != nil {
			return nil, err
		}
		if host != "" {
			if err := validator.ValidateURL(host); err != nil {
				w.printf("Warning: %v, using default\n", err)
			} else {
				cfg.Embedding.OllamaHost = host
			}
		}
	}

	w.println()

	// Server
	port, err := w.ask(fmt.Sprintf("API server port [%d]: ", cfg.Server.Port))
	if err != nil {
		return nil, err
	}
	if port != "" {
		n, convErr := strconv.Atoi(port)
		if convErr == nil {
			convErr = validator.ValidatePort(n)
		}
		if convErr != nil {
			w.printf("Warning: %v, using default (%d)\n", convErr, cfg.Server.Port)
		} else {
			cfg.Server.Port = n
		}
	}

	// Log Level
	level, err := w.ask("Log level (debug/info/warn/error) [info]: ")
	if err != nil {
		return nil, err
	}
	if level != "" {
		if err := validator.ValidateLogLevel(level); err != nil {
			w.printf("Warning: %v, using default (info)\n", err)
		} else {
			cfg.Logging.Level = level
		}
	}

	w.println()
	w.println("Configuration complete!")

	return cfg, nil
}

func (w *Wizard) ask(prompt string) (string, error) {
	fmt.Fprint(w.out, prompt)
	return w.readLine()
}

// readLine returns the next trimmed line. A final line without a newline is
// returned normally; io.EOF is only reported once input is exhausted.
func (w *Wizard) readLine() (string, error) {
	line, err := w.reader.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && line != "" {
			return strings.TrimSpace(line), nil
		}
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func (w *Wizard) println(a ...interface{}) {
	fmt.Fprintln(w.out, a...)
}

func (w *Wizard) printf(format string, a ...interface{}) {
	fmt.Fprintf(w.out, format, a...)
}
