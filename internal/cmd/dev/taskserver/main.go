// Command taskserver is an in-memory stand-in for the task backend, for
// exercising `microchallenges tasks` without the real service.
package main

import (
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"microchallenges/internal/httpx"
	"microchallenges/internal/pagination"
	"microchallenges/internal/taskclient"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"
)

var (
	port       string
	socketPath string
	pageSize   int
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "taskserver",
		Short: "In-memory task backend for development",
		Long:  "A small HTTP server that implements the /api/tasks/ endpoints in memory",
		RunE: func(cmd *cobra.Command, args []string) error {
			h := newTaskStore(pageSize).routes()
			if socketPath != "" {
				return runUnixSocket(socketPath, h)
			} else if port != "" {
				return runPort(port, h)
			}
			return fmt.Errorf("no port or socket specified")
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&port, "port", "p", "8000", "Port to listen on")
	flags.StringVarP(&socketPath, "unix-socket", "s", "", "Unix socket to listen on")
	flags.IntVar(&pageSize, "page-size", 10, "Tasks per page")

	return cmd
}

type taskStore struct {
	mu       sync.Mutex
	tasks    map[int64]*taskclient.Task
	nextID   int64
	pageSize int
}

func newTaskStore(pageSize int) *taskStore {
	return &taskStore{tasks: map[int64]*taskclient.Task{}, pageSize: max(pageSize, 1)}
}

func (s *taskStore) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log.Printf("%s %s from %s", r.Method, r.URL.RequestURI(), r.RemoteAddr)
			next.ServeHTTP(w, r)
		})
	})
	r.NotFound(httpx.NotFound)
	r.MethodNotAllowed(httpx.MethodNotAllowed)

	r.Get("/api/tasks/", s.list)
	r.Post("/api/tasks/", s.create)
	r.Get("/api/tasks/{id}/", s.withTask(s.get))
	r.Put("/api/tasks/{id}/", s.withTask(s.replace))
	r.Patch("/api/tasks/{id}/", s.withTask(s.patch))
	r.Delete("/api/tasks/{id}/", s.withTask(s.delete))
	return r
}

// sorted returns tasks newest first, the backend's default ordering.
func (s *taskStore) sorted() []taskclient.Task {
	out := make([]taskclient.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out
}

func (s *taskStore) list(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	page, _ := pagination.ParseParams(r.URL.Query())
	p := pagination.Paginate(s.sorted(), page, s.pageSize)

	link := func(n int) *string {
		u := fmt.Sprintf("http://%s/api/tasks/?page=%d", r.Host, n)
		return &u
	}
	resp := taskclient.Page{Count: p.Total, Results: p.Items}
	if page*s.pageSize < p.Total {
		resp.Next = link(page + 1)
	}
	if page > 1 {
		resp.Previous = link(page - 1)
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

func (s *taskStore) create(w http.ResponseWriter, r *http.Request) {
	var in taskclient.Task
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_json", "Body must be valid JSON")
		return
	}
	name, ok := validName(w, in.Name)
	if !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	now := time.Now().UTC()
	t := &taskclient.Task{ID: s.nextID, Name: name, Completed: in.Completed, CreatedAt: &now, UpdatedAt: &now}
	s.tasks[t.ID] = t
	httpx.WriteJSON(w, http.StatusCreated, t)
}

func (s *taskStore) withTask(fn func(http.ResponseWriter, *http.Request, *taskclient.Task)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			httpx.NotFound(w, r)
			return
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		t, ok := s.tasks[id]
		if !ok {
			httpx.NotFound(w, r)
			return
		}
		fn(w, r, t)
	}
}

func (s *taskStore) get(w http.ResponseWriter, r *http.Request, t *taskclient.Task) {
	httpx.WriteJSON(w, http.StatusOK, t)
}

func (s *taskStore) replace(w http.ResponseWriter, r *http.Request, t *taskclient.Task) {
	var in taskclient.Task
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_json", "Body must be valid JSON")
		return
	}
	name, ok := validName(w, in.Name)
	if !ok {
		return
	}
	t.Name = name
	t.Completed = in.Completed
	touch(t)
	httpx.WriteJSON(w, http.StatusOK, t)
}

func (s *taskStore) patch(w http.ResponseWriter, r *http.Request, t *taskclient.Task) {
	var in taskclient.TaskPatch
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_json", "Body must be valid JSON")
		return
	}
	if in.Name != nil {
		name, ok := validName(w, *in.Name)
		if !ok {
			return
		}
		t.Name = name
	}
	if in.Completed != nil {
		t.Completed = *in.Completed
	}
	touch(t)
	httpx.WriteJSON(w, http.StatusOK, t)
}

func (s *taskStore) delete(w http.ResponseWriter, r *http.Request, t *taskclient.Task) {
	delete(s.tasks, t.ID)
	w.WriteHeader(http.StatusNoContent)
}

func touch(t *taskclient.Task) {
	now := time.Now().UTC()
	t.UpdatedAt = &now
}

// validName trims the name and rejects empty or overlong names.
func validName(w http.ResponseWriter, name string) (string, bool) {
	name = strings.TrimSpace(name)
	if name == "" || len(name) > 255 {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_name", "Task name must be 1 to 255 characters")
		return "", false
	}
	return name, true
}

func runPort(port string, h http.Handler) error {
	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      h,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	log.Printf("Task server listening on :%s", port)
	return srv.ListenAndServe()
}

func runUnixSocket(socketPath string, h http.Handler) error {
	if err := os.Remove(socketPath); err != nil && !os.IsNotExist(err) {
		return err
	}

	srv := &http.Server{
		Handler:      h,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return err
	}
	defer listener.Close()

	if err := os.Chmod(socketPath, 0666); err != nil {
		return err
	}

	log.Printf("Task server listening on unix socket: %s", socketPath)
	return srv.Serve(listener)
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
