package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/bantamhq/cutman/internal/lfs"
	"github.com/bantamhq/cutman/internal/store"
)

// Server is the cutman HTTP server: management REST API, content API, Git
// Smart HTTP, and Git LFS, all on one listener.
type Server struct {
	store         store.Store
	permissions   *store.PermissionChecker
	dataDir       string
	publicBaseURL string
	lfsStorage    lfs.Storage
	logger        *zap.Logger
	router        *chi.Mux
}

// NewServer creates a new server instance. publicBaseURL may be empty, in
// which case LFS action URLs are derived from the incoming request.
func NewServer(st store.Store, lfsStorage lfs.Storage, dataDir, publicBaseURL string, logger *zap.Logger) *Server {
	s := &Server{
		store:         st,
		permissions:   store.NewPermissionChecker(st),
		dataDir:       dataDir,
		publicBaseURL: publicBaseURL,
		lfsStorage:    lfsStorage,
		logger:        logger,
		router:        chi.NewRouter(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(s.requestLogger)
	s.router.Use(middleware.Recoverer)

	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api/v1", func(r chi.Router) {
		// Management surface. Admin routes check the token flavor per
		// handler; everything here requires credentials.
		r.Group(func(r chi.Router) {
			r.Use(s.requireAuthMiddleware(apiChallenge))

			r.Route("/admin", func(r chi.Router) {
				r.Get("/namespaces", s.handleAdminListNamespaces)
				r.Post("/namespaces", s.handleAdminCreateNamespace)
				r.Get("/namespaces/{name}", s.handleAdminGetNamespace)
				r.Delete("/namespaces/{name}", s.handleAdminDeleteNamespace)

				r.Get("/tokens", s.handleAdminListTokens)
				r.Get("/tokens/{id}", s.handleAdminGetToken)
				r.Delete("/tokens/{id}", s.handleAdminDeleteToken)

				r.Get("/principals", s.handleAdminListPrincipals)
				r.Post("/principals", s.handleAdminCreatePrincipal)
				r.Get("/principals/{id}", s.handleAdminGetPrincipal)
				r.Delete("/principals/{id}", s.handleAdminDeletePrincipal)

				r.Get("/principals/{id}/tokens", s.handleAdminListPrincipalTokens)
				r.Post("/principals/{id}/tokens", s.handleAdminCreatePrincipalToken)

				r.Post("/principals/{id}/namespace-grants", s.handleAdminCreateNamespaceGrant)
				r.Get("/principals/{id}/namespace-grants", s.handleAdminListNamespaceGrants)
				r.Get("/principals/{id}/namespace-grants/{nsID}", s.handleAdminGetNamespaceGrant)
				r.Delete("/principals/{id}/namespace-grants/{nsID}", s.handleAdminDeleteNamespaceGrant)

				r.Post("/principals/{id}/repo-grants", s.handleAdminCreateRepoGrant)
				r.Get("/principals/{id}/repo-grants", s.handleAdminListRepoGrants)
				r.Get("/principals/{id}/repo-grants/{repoID}", s.handleAdminGetRepoGrant)
				r.Delete("/principals/{id}/repo-grants/{repoID}", s.handleAdminDeleteRepoGrant)
			})

			r.Get("/namespaces", s.handleListNamespaces)
			r.Patch("/namespaces/{name}", s.handleUpdateNamespace)
			r.Delete("/namespaces/{name}", s.handleDeleteNamespace)
			r.Get("/namespaces/{name}/grants", s.handleListNamespaceGrantsForNamespace)

			r.Get("/repos", s.handleListRepos)
			r.Post("/repos", s.handleCreateRepo)
			r.Get("/repos/{id}", s.handleGetRepo)
			r.Patch("/repos/{id}", s.handleUpdateRepo)
			r.Delete("/repos/{id}", s.handleDeleteRepo)

			r.Get("/repos/{id}/tags", s.handleListRepoTags)
			r.Post("/repos/{id}/tags", s.handleAddRepoTags)
			r.Put("/repos/{id}/tags", s.handleSetRepoTags)
			r.Delete("/repos/{id}/tags/{tagID}", s.handleRemoveRepoTag)

			r.Post("/repos/{id}/refs", s.handleCreateRef)
			r.Patch("/repos/{id}/refs/{refType}/*", s.handleUpdateRef)
			r.Delete("/repos/{id}/refs/{refType}/*", s.handleDeleteRef)
			r.Put("/repos/{id}/default-branch", s.handleSetDefaultBranch)

			r.Get("/tags", s.handleListTags)
			r.Post("/tags", s.handleCreateTag)
			r.Get("/tags/{id}", s.handleGetTag)
			r.Patch("/tags/{id}", s.handleUpdateTag)
			r.Delete("/tags/{id}", s.handleDeleteTag)

			r.Get("/folders", s.handleListFolders)
			r.Post("/folders", s.handleCreateFolder)
			r.Get("/folders/{id}", s.handleGetFolder)
			r.Patch("/folders/{id}", s.handleUpdateFolder)
			r.Delete("/folders/{id}", s.handleDeleteFolder)
			r.Get("/folders/{id}/repos", s.handleListFolderRepos)
		})

		// Content API. Anonymous access works for public repos.
		r.Group(func(r chi.Router) {
			r.Use(s.optionalAuthMiddleware(apiChallenge))

			r.Get("/repos/{id}/refs", s.handleListRefs)
			r.Get("/repos/{id}/commits", s.handleListCommits)
			r.Get("/repos/{id}/commits/{sha}", s.handleGetCommit)
			r.Get("/repos/{id}/commits/{sha}/diff", s.handleGetCommitDiff)
			r.Get("/repos/{id}/compare/{base}...{head}", s.handleCompareCommits)
			r.Get("/repos/{id}/tree/{ref}", s.handleGetTree)
			r.Get("/repos/{id}/tree/{ref}/*", s.handleGetTree)
			r.Get("/repos/{id}/blob/{ref}/*", s.handleGetBlob)
			r.Get("/repos/{id}/blame/{ref}/*", s.handleGetBlame)
			r.Get("/repos/{id}/archive/{ref}", s.handleGetArchive)
			r.Get("/repos/{id}/readme", s.handleGetReadme)
		})
	})

	gitHandler := NewGitHTTPHandler(s.store, s.dataDir, s.logger)
	lfsHandler := NewLFSHandler(s.store, s.lfsStorage, s.publicBaseURL, s.logger)

	s.router.Route("/git/{namespace}/{repo}", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(s.optionalAuthMiddleware(gitChallenge))
			r.Get("/info/refs", gitHandler.handleInfoRefs)
			r.Post("/git-upload-pack", gitHandler.handleUploadPack)
			r.Post("/git-receive-pack", gitHandler.handleReceivePack)
		})

		r.Route("/info/lfs", func(r chi.Router) {
			r.Use(s.optionalAuthMiddleware(lfsChallenge))
			r.Mount("/", lfsHandler.Routes())
		})
	})
}

// requestLogger logs one line per request, after it completes.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Start starts the HTTP server on the given host and port.
func (s *Server) Start(host string, port int) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	s.logger.Info("starting server", zap.String("addr", addr))

	// No global read/write deadlines: git pack transfers and LFS uploads
	// stream for up to gitCommandTimeout.
	server := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	return server.ListenAndServe()
}
