package prober

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"golang.org/x/mod/modfile"
)

// Project is what the local deploy tier knows about a checkout.
type Project struct {
	Kind string
	Port int
	// Dockerfile is generated content; empty when the repo ships its own.
	Dockerfile string
}

func exists(dir, name string) bool {
	_, err := os.Stat(filepath.Join(dir, name))
	return err == nil
}

// DetectProject inspects build manifests in dir. ok is false when nothing
// runnable was recognized.
func DetectProject(dir string) (Project, bool, error) {
	if exists(dir, "Dockerfile") {
		return Project{Kind: "docker", Port: exposedPort(filepath.Join(dir, "Dockerfile"))}, true, nil
	}

	if exists(dir, "go.mod") {
		data, err := os.ReadFile(filepath.Join(dir, "go.mod"))
		if err != nil {
			return Project{}, false, err
		}
		mf, err := modfile.ParseLax("go.mod", data, nil)
		if err != nil {
			return Project{}, false, fmt.Errorf("parsing go.mod: %w", err)
		}
		goVersion := "1.23"
		if mf.Go != nil {
			goVersion = mf.Go.Version
			if parts := strings.Split(goVersion, "."); len(parts) > 2 {
				goVersion = parts[0] + "." + parts[1]
			}
		}
		return Project{Kind: "go", Port: 8080, Dockerfile: goDockerfile(goVersion)}, true, nil
	}

	if exists(dir, "requirements.txt") || exists(dir, "pyproject.toml") {
		kind := pythonKind(dir)
		switch kind {
		case "django":
			return Project{Kind: kind, Port: 8000, Dockerfile: djangoDockerfile}, true, nil
		case "flask":
			return Project{Kind: kind, Port: 5000, Dockerfile: flaskDockerfile}, true, nil
		}
		return Project{Kind: "python", Port: 8000, Dockerfile: pythonDockerfile}, true, nil
	}

	if exists(dir, "package.json") {
		kind, port := nodeKind(dir)
		return Project{Kind: kind, Port: port, Dockerfile: nodeDockerfile(port)}, true, nil
	}

	if exists(dir, "index.html") {
		return Project{Kind: "static", Port: 8080, Dockerfile: staticDockerfile}, true, nil
	}
	if exists(dir, "index.php") || exists(dir, "composer.json") {
		return Project{Kind: "php", Port: 80, Dockerfile: phpDockerfile}, true, nil
	}
	return Project{}, false, nil
}

type pyproject struct {
	Project struct {
		Dependencies []string `toml:"dependencies"`
	} `toml:"project"`
	Tool struct {
		Poetry struct {
			Dependencies map[string]interface{} `toml:"dependencies"`
		} `toml:"poetry"`
	} `toml:"tool"`
}

func pythonKind(dir string) string {
	if exists(dir, "manage.py") {
		return "django"
	}

	var deps []string
	if data, err := os.ReadFile(filepath.Join(dir, "pyproject.toml")); err == nil {
		var pp pyproject
		if _, err := toml.Decode(string(data), &pp); err == nil {
			deps = append(deps, pp.Project.Dependencies...)
			for name := range pp.Tool.Poetry.Dependencies {
				deps = append(deps, name)
			}
		}
	}
	if data, err := os.ReadFile(filepath.Join(dir, "requirements.txt")); err == nil {
		deps = append(deps, strings.Split(string(data), "\n")...)
	}
	for _, d := range deps {
		d = strings.ToLower(strings.TrimSpace(d))
		switch {
		case strings.HasPrefix(d, "django"):
			return "django"
		case strings.HasPrefix(d, "flask"):
			return "flask"
		}
	}
	if exists(dir, "app.py") || exists(dir, "wsgi.py") {
		return "flask"
	}
	return "python"
}

func nodeKind(dir string) (string, int) {
	var pkg struct {
		Scripts map[string]string `json:"scripts"`
	}
	data, err := os.ReadFile(filepath.Join(dir, "package.json"))
	if err == nil && json.Unmarshal(data, &pkg) == nil {
		switch {
		case strings.Contains(pkg.Scripts["dev"], "next"):
			return "nextjs", 3000
		case strings.Contains(pkg.Scripts["start"], "react-scripts"):
			return "react", 3000
		case strings.Contains(pkg.Scripts["serve"], "vue-cli-service"):
			return "vue", 8080
		}
	}
	return "nodejs", 3000
}

// exposedPort reads the first EXPOSE line, defaulting to 8080.
func exposedPort(dockerfile string) int {
	data, err := os.ReadFile(dockerfile)
	if err != nil {
		return 8080
	}
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) >= 2 && strings.EqualFold(fields[0], "EXPOSE") {
			var port int
			if _, err := fmt.Sscanf(strings.Split(fields[1], "/")[0], "%d", &port); err == nil && port > 0 {
				return port
			}
		}
	}
	return 8080
}

func goDockerfile(version string) string {
	return fmt.Sprintf(`FROM golang:%s-alpine AS build
WORKDIR /src
COPY . .
RUN go build -o /out/app .

FROM alpine:3.20
COPY --from=build /out/app /app
ENV PORT=8080
EXPOSE 8080
CMD ["/app"]
`, version)
}

func nodeDockerfile(port int) string {
	return fmt.Sprintf(`FROM node:18-alpine
WORKDIR /app
COPY package*.json ./
RUN npm install
COPY . .
RUN npm run build || true
ENV PORT=%d
EXPOSE %d
CMD ["npm", "start"]
`, port, port)
}

const flaskDockerfile = `FROM python:3.11-slim
WORKDIR /app
COPY . .
RUN if [ -f requirements.txt ]; then pip install --no-cache-dir -r requirements.txt; else pip install --no-cache-dir .; fi
ENV FLASK_APP=app.py
EXPOSE 5000
CMD ["flask", "run", "--host=0.0.0.0"]
`

const djangoDockerfile = `FROM python:3.11-slim
WORKDIR /app
COPY . .
RUN if [ -f requirements.txt ]; then pip install --no-cache-dir -r requirements.txt; else pip install --no-cache-dir .; fi
RUN python manage.py migrate --no-input
EXPOSE 8000
CMD ["python", "manage.py", "runserver", "0.0.0.0:8000"]
`

const pythonDockerfile = `FROM python:3.11-slim
WORKDIR /app
COPY . .
RUN if [ -f requirements.txt ]; then pip install --no-cache-dir -r requirements.txt; else pip install --no-cache-dir .; fi
EXPOSE 8000
CMD ["python", "-m", "http.server", "8000"]
`

const staticDockerfile = `FROM nginx:alpine
COPY . /usr/share/nginx/html
RUN sed -i 's/listen  *80;/listen 8080;/' /etc/nginx/conf.d/default.conf
EXPOSE 8080
CMD ["nginx", "-g", "daemon off;"]
`

const phpDockerfile = `FROM php:8.1-apache
COPY . /var/www/html/
EXPOSE 80
CMD ["apache2-foreground"]
`
