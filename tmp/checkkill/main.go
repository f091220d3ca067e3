package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"taskcull/internal/config"
	"taskcull/internal/db"
	"taskcull/internal/domain"
	"taskcull/internal/engine"
	"taskcull/internal/migrate"
	"taskcull/internal/registry"
	"taskcull/internal/server"
)

func main() {
	workspace := "/tmp/taskcull-check1"
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		panic(err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		panic(err)
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		panic(err)
	}
	ctx := context.Background()
	cfg := config.Default("check")
	r := registry.Repo{DB: conn}
	if err := r.SyncRolePermissions(ctx, cfg); err != nil {
		panic(err)
	}
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		panic(err)
	}
	if err := r.EnsureActor(ctx, tx, "tester"); err != nil {
		panic(err)
	}
	if err := r.AssignRole(ctx, tx, "tester", "operator", "/"); err != nil {
		panic(err)
	}
	if err := tx.Commit(); err != nil {
		panic(err)
	}

	appPath := domain.WorkloadPath("/my/app")
	if err := r.InsertApp(ctx, nil, domain.App{Path: appPath, Instances: 3}); err != nil {
		panic(err)
	}
	var ids []string
	for i := 0; i < 3; i++ {
		t := domain.TaskRecord{
			ID:        domain.NewTaskID(appPath),
			AppPath:   appPath,
			Status:    domain.TaskRunning,
			StartedAt: time.Now().UTC().Format(time.RFC3339),
		}
		if err := r.InsertTask(ctx, nil, t); err != nil {
			panic(err)
		}
		ids = append(ids, string(t.ID))
	}

	e := engine.New(conn, cfg)
	jwtSecret := "test-secret"
	h, err := server.New(server.Config{Engine: e, BasePath: "/v1", Auth: server.AuthConfig{JWTSecret: jwtSecret}})
	if err != nil {
		panic(err)
	}
	ts := httptest.NewServer(h)
	defer ts.Close()
	token := signToken(jwtSecret, "tester")

	body, _ := json.Marshal(map[string]any{"ids": ids[:2]})
	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/v1/tasks/delete?scale=false", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		panic(err)
	}
	var resp any
	_ = json.NewDecoder(res.Body).Decode(&resp)
	res.Body.Close()
	fmt.Printf("direct kill: status=%d resp=%v\n", res.StatusCode, resp)

	body, _ = json.Marshal(map[string]any{"ids": ids[2:]})
	req, _ = http.NewRequest(http.MethodPost, ts.URL+"/v1/tasks/delete?scale=true", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	res, err = http.DefaultClient.Do(req)
	if err != nil {
		panic(err)
	}
	resp = nil
	_ = json.NewDecoder(res.Body).Decode(&resp)
	res.Body.Close()
	fmt.Printf("scale kill: status=%d resp=%v\n", res.StatusCode, resp)
}

func signToken(secret, actorID string) string {
	claims := jwt.RegisteredClaims{
		Subject:   actorID,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		panic(err)
	}
	return signed
}
