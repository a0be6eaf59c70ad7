package main

import (
	"context"
	"flag"
	"log"

	"agentcanvas/backend/internal/auth"
	"agentcanvas/backend/internal/config"
	"agentcanvas/backend/internal/graph"
	"agentcanvas/backend/internal/logging"
	"agentcanvas/backend/internal/repository"
	"agentcanvas/backend/internal/services"
)

type seedWorkflow struct {
	Name         string
	Description  string
	Model        string
	SystemPrompt string
}

var seedWorkflows = []seedWorkflow{
	{"Support Agent", "Answers product questions politely.", "gemini-1.5-flash", "You are a friendly support agent. Keep answers short."},
	{"Pirate", "Talks like a pirate.", "gemini-1.5-pro", "You are a pirate. Answer every question in pirate speak."},
	{"Code Reviewer", "Reviews code snippets for style and bugs.", "gpt-4o", "You review code. Point out bugs first, then style."},
}

func main() {
	envFile := flag.String("env", "", "Path to .env file")
	flag.Parse()

	ctx := context.Background()

	cfg, err := config.LoadConfig(*envFile)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger := logging.NewLoggerWithOptions(logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})

	repo, err := repository.Open(ctx, repository.OpenOptions{
		Driver:      cfg.Store.Driver,
		PostgresDSN: cfg.PostgresDSN(),
		SQLitePath:  cfg.Store.SQLitePath,
		Migrate:     true,
	})
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer repo.Close()

	// 1. Ensure the dev user exists
	user, err := services.NewUserService(repo, logger).Sync(ctx, auth.DevIdentity)
	if err != nil {
		log.Fatalf("Failed to sync dev user: %v", err)
	}
	logger.Info("Using dev user", "id", user.ID, "credits", user.Credits)

	// 2. Check for existing workflows to prevent duplicates
	workflows := services.NewWorkflowService(repo, logger)
	existing, err := workflows.List(ctx, user.ID)
	if err != nil {
		log.Fatalf("Failed to list existing workflows: %v", err)
	}
	existingNames := make(map[string]bool)
	for _, w := range existing {
		existingNames[w.Name] = true
	}

	// 3. Create seed workflows with a configured agent graph
	for _, s := range seedWorkflows {
		if existingNames[s.Name] {
			logger.Info("Skipping existing workflow", "name", s.Name)
			continue
		}

		wf, err := workflows.Create(ctx, user.ID, s.Name, s.Description)
		if err != nil {
			log.Printf("Failed to create workflow %s: %v", s.Name, err)
			continue
		}

		g := graph.DefaultGraph()
		g.Nodes[1].Data = graph.NodeData{Label: s.Name, Model: s.Model, SystemPrompt: s.SystemPrompt}
		g.Edges = []graph.Edge{{ID: "e-start-process", Source: g.Nodes[0].ID, Target: g.Nodes[1].ID}}
		if _, err := workflows.SaveGraph(ctx, wf.ID, user.ID, g); err != nil {
			log.Printf("Failed to save graph for %s: %v", s.Name, err)
			continue
		}
		logger.Info("Seeded workflow", "name", s.Name, "id", wf.ID)
	}
	logger.Info("Seeding complete!")
}
