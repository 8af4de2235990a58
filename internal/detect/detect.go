// Package detect guesses how to start a dev server from the files in a
// project directory. The guess seeds portless.json; users can always edit it.
package detect

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// Framework describes a detected project type and how to run it.
type Framework struct {
	Name    string
	Command string
	PortEnv string // env var that carries the port, "" when PortArg is used
	PortArg string // CLI flag the port is appended to, "" when PortEnv is used
}

type packageJSON struct {
	Scripts         map[string]string `json:"scripts"`
	Dependencies    map[string]string `json:"dependencies"`
	DevDependencies map[string]string `json:"devDependencies"`
}

func (p packageJSON) has(name string) bool {
	if _, ok := p.Dependencies[name]; ok {
		return true
	}
	_, ok := p.DevDependencies[name]
	return ok
}

// nodeFrameworks is ordered: meta-frameworks first so a Next.js app that also
// depends on react-scripts resolves to Next.js.
var nodeFrameworks = []struct {
	dep       string
	framework Framework
}{
	{"next", Framework{Name: "Next.js", Command: "npx next dev", PortArg: "-p"}},
	{"nuxt", Framework{Name: "Nuxt", Command: "npx nuxt dev", PortArg: "--port"}},
	{"@remix-run/dev", Framework{Name: "Remix", Command: "npx remix dev", PortEnv: "PORT"}},
	{"vite", Framework{Name: "Vite", Command: "npx vite", PortArg: "--port"}},
	{"react-scripts", Framework{Name: "Create React App", Command: "npx react-scripts start", PortEnv: "PORT"}},
	{"@nestjs/core", Framework{Name: "NestJS", Command: "npm run start:dev", PortEnv: "PORT"}},
	{"fastify", Framework{Name: "Fastify", Command: "npm start", PortEnv: "PORT"}},
	{"express", Framework{Name: "Express", Command: "npm start", PortEnv: "PORT"}},
}

// Detect inspects dir and returns the most specific framework match, or nil
// when nothing is recognised.
func Detect(dir string) *Framework {
	if fw := detectNode(dir); fw != nil {
		return fw
	}
	if exists(filepath.Join(dir, "manage.py")) {
		// Django's runserver takes host:port as a positional argument; the
		// trailing colon tells the supervisor to append the port directly.
		return &Framework{Name: "Django", Command: "python manage.py runserver", PortArg: "0.0.0.0:"}
	}
	if exists(filepath.Join(dir, "Gemfile")) {
		return &Framework{Name: "Rails", Command: "bin/rails server", PortArg: "-p"}
	}
	if exists(filepath.Join(dir, "go.mod")) {
		return &Framework{Name: "Go", Command: "go run .", PortEnv: "PORT"}
	}
	return nil
}

func detectNode(dir string) *Framework {
	raw, err := os.ReadFile(filepath.Join(dir, "package.json"))
	if err != nil {
		return nil
	}

	var pkg packageJSON
	if err := json.Unmarshal(raw, &pkg); err != nil {
		return nil
	}

	for _, entry := range nodeFrameworks {
		if pkg.has(entry.dep) {
			fw := entry.framework
			return &fw
		}
	}

	// Unrecognised Node project with a dev script still gets a command.
	if _, ok := pkg.Scripts["dev"]; ok {
		return &Framework{Name: "Node", Command: "npm run dev", PortEnv: "PORT"}
	}
	if _, ok := pkg.Scripts["start"]; ok {
		return &Framework{Name: "Node", Command: "npm start", PortEnv: "PORT"}
	}
	return nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
