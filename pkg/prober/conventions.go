package prober

import (
	"fmt"
	"regexp"
	"strings"
)

// Candidate is a hosting URL guessed from a repository.
type Candidate struct {
	Platform string
	URL      string
}

var githubRepo = regexp.MustCompile(`github\.com[/:]([^/]+)/([^/]+?)(?:\.git)?/?$`)

// ParseRepoURL extracts owner and repository from a GitHub URL, https or ssh.
func ParseRepoURL(repoURL string) (owner, repo string, err error) {
	m := githubRepo.FindStringSubmatch(strings.TrimSpace(repoURL))
	if m == nil {
		return "", "", fmt.Errorf("not a github repository url: %q", repoURL)
	}
	return m[1], m[2], nil
}

// ConventionURLs lists candidates in probe order.
func ConventionURLs(repoURL string) ([]Candidate, error) {
	owner, repo, err := ParseRepoURL(repoURL)
	if err != nil {
		return nil, err
	}
	owner, repo = strings.ToLower(owner), strings.ToLower(repo)
	return []Candidate{
		{"GitHub Pages", fmt.Sprintf("https://%s.github.io/%s", owner, repo)},
		{"GitHub Pages", fmt.Sprintf("https://%s.github.io", owner)},
		{"Vercel", fmt.Sprintf("https://%s.vercel.app", repo)},
		{"Netlify", fmt.Sprintf("https://%s.netlify.app", repo)},
		{"Render", fmt.Sprintf("https://%s.onrender.com", repo)},
		{"Heroku", fmt.Sprintf("https://%s.herokuapp.com", repo)},
	}, nil
}
