package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/annel0/grid-dungeon/internal/dungeon"
	"github.com/annel0/grid-dungeon/internal/templategen"
)

const defaultServer = "http://localhost:8088"

func main() {
	var (
		seed     = flag.Int64("seed", time.Now().UnixNano(), "Noise seed")
		width    = flag.Int("width", 15, "Room width")
		height   = flag.Int("height", 11, "Room height")
		name     = flag.String("name", "", "Template name (single template mode)")
		exits    = flag.String("exits", "", "Exits for single template (comma-separated: north,east,...)")
		standard = flag.Bool("standard", false, "Generate the standard set: start room plus one template per exit combination")
		start    = flag.String("start", "First", "Start template name for the standard set")
		out      = flag.String("out", "", "Write JSON to file instead of stdout")
		server   = flag.String("server", "", "Upload templates to this server (e.g. "+defaultServer+")")
		token    = flag.String("token", "", "Designer JWT for upload")
		user     = flag.String("user", "", "Designer username (used when -token is empty)")
		password = flag.String("password", "", "Designer password")
	)
	flag.Parse()

	gen, err := templategen.NewGenerator(*seed, *width, *height)
	if err != nil {
		log.Fatalf("❌ %v", err)
	}

	specs, err := buildSpecs(*standard, *name, *exits, *start)
	if err != nil {
		log.Fatalf("❌ %v", err)
	}

	candidates := make([]dungeon.TemplateCandidate, 0, len(specs))
	for _, s := range specs {
		c, err := gen.Candidate(s.Name, s.Exits...)
		if err != nil {
			log.Fatalf("❌ Template %s: %v", s.Name, err)
		}
		candidates = append(candidates, c)
	}

	if *server == "" {
		if err := writeJSON(*out, candidates); err != nil {
			log.Fatalf("❌ Write failed: %v", err)
		}
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	client := &uploader{base: strings.TrimRight(*server, "/"), token: *token, http: &http.Client{Timeout: 30 * time.Second}}
	if client.token == "" {
		if err := client.login(ctx, *user, *password); err != nil {
			log.Fatalf("❌ Login failed: %v", err)
		}
	}

	created := 0
	for _, c := range candidates {
		if err := client.upload(ctx, c); err != nil {
			log.Printf("⚠️  %s: %v", c.Name, err)
			continue
		}
		created++
		fmt.Printf("✅ %s (%s)\n", c.Name, exitNames(c))
	}
	fmt.Printf("Uploaded %d of %d templates (seed %d)\n", created, len(candidates), gen.Seed())
}

func buildSpecs(standard bool, name, exits, start string) ([]templategen.Spec, error) {
	if standard {
		return templategen.StandardSet(start), nil
	}
	if name == "" {
		return nil, fmt.Errorf("either -standard or -name is required")
	}
	var dirs []dungeon.Direction
	for _, raw := range parseStringList(exits) {
		d, err := dungeon.ParseDirection(raw)
		if err != nil {
			return nil, err
		}
		dirs = append(dirs, d)
	}
	return []templategen.Spec{{Name: name, Exits: dirs}}, nil
}

func writeJSON(path string, v interface{}) error {
	var w io.Writer = os.Stdout
	if path != "" {
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

type uploader struct {
	base  string
	token string
	http  *http.Client
}

type apiResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Token   string `json:"token"`
}

func (u *uploader) login(ctx context.Context, user, password string) error {
	if user == "" {
		return fmt.Errorf("-token or -user is required for upload")
	}
	resp, err := u.post(ctx, "/api/auth/login", map[string]string{"username": user, "password": password})
	if err != nil {
		return err
	}
	if resp.Token == "" {
		return fmt.Errorf("empty token in login response")
	}
	u.token = resp.Token
	return nil
}

func (u *uploader) upload(ctx context.Context, c dungeon.TemplateCandidate) error {
	_, err := u.post(ctx, "/api/templates", c)
	return err
}

func (u *uploader) post(ctx context.Context, path string, body interface{}) (*apiResponse, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.base+path, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if u.token != "" {
		req.Header.Set("Authorization", "Bearer "+u.token)
	}

	res, err := u.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	var out apiResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("status %d: %w", res.StatusCode, err)
	}
	if res.StatusCode >= 300 {
		return &out, fmt.Errorf("status %d: %s", res.StatusCode, out.Message)
	}
	return &out, nil
}

func exitNames(c dungeon.TemplateCandidate) string {
	if c.Exits == nil || len(c.Exits.List()) == 0 {
		return "no exits"
	}
	var names []string
	for _, d := range c.Exits.List() {
		names = append(names, string(d))
	}
	return strings.Join(names, ",")
}

func parseStringList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
