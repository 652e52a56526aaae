package api

import (
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"

	"github.com/NebulousLabs/errors"
	"github.com/julienschmidt/httprouter"
	"github.com/kevin-bruhwiler/Kowloon/blockgrid"
	"github.com/kevin-bruhwiler/Kowloon/oracle"
	"github.com/kevin-bruhwiler/Kowloon/reconcile"
)

// Server is the HTTP front end for a single Blockgrid: a listener, the
// router built by initAPI, and the collaborators (the trust oracle, the
// reconciliation resolver) the route handlers dispatch to.
type Server struct {
	bg       *blockgrid.Blockgrid
	oracle   oracle.Client
	resolver *reconcile.Resolver
	limiter  *RateLimiter
	log      *log.Logger

	httpServer *http.Server
	listener   net.Listener
}

// NewServer binds addr and builds a Server dispatching to bg, oc, and
// resolver. logger must not be nil.
func NewServer(addr string, bg *blockgrid.Blockgrid, oc oracle.Client, resolver *reconcile.Resolver, logger *log.Logger) (*Server, error) {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.AddContext(err, "could not bind api listener")
	}

	srv := &Server{
		bg:       bg,
		oracle:   oc,
		resolver: resolver,
		limiter:  NewRateLimiter(defaultRateLimit, defaultRateWindow),
		log:      logger,
		listener: l,
	}
	srv.httpServer = &http.Server{Handler: srv.buildRouter()}
	return srv, nil
}

func (srv *Server) buildRouter() http.Handler {
	router := httprouter.New()
	router.NotFound = http.HandlerFunc(srv.unrecognizedCallHandler)

	router.GET("/", rateLimited(srv.limiter, srv.rootHandler))
	router.GET("/mine", rateLimited(srv.limiter, srv.mineHandler))
	router.POST("/transactions/new", rateLimited(srv.limiter, srv.transactionsNewHandler))
	router.POST("/transactions/new/unsigned", rateLimited(srv.limiter, srv.transactionsNewUnsignedHandler))
	router.POST("/grid/index", rateLimited(srv.limiter, srv.gridIndexHandler))
	router.POST("/grid/index/bundles", rateLimited(srv.limiter, srv.gridIndexBundlesHandler))
	router.GET("/grid", rateLimited(srv.limiter, srv.gridHandler))
	router.GET("/grid/compare", rateLimited(srv.limiter, srv.gridCompareHandler))
	router.PUT("/grid/replace", rateLimited(srv.limiter, srv.gridReplaceHandler))
	router.GET("/grid/update", rateLimited(srv.limiter, srv.gridUpdateHandler))
	router.POST("/nodes/register", rateLimited(srv.limiter, srv.nodesRegisterHandler))
	router.GET("/nodes/resolve", rateLimited(srv.limiter, srv.nodesResolveHandler))

	return router
}

func (srv *Server) unrecognizedCallHandler(w http.ResponseWriter, req *http.Request) {
	writeError(w, Error{"404 - unrecognized endpoint"}, http.StatusNotFound)
}

// Serve listens for and handles API calls. It is a blocking call that
// returns when the listener is closed, either via Close or an interrupt
// signal.
func (srv *Server) Serve() error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt)
	defer signal.Stop(sigChan)
	go func() {
		<-sigChan
		fmt.Println("\rCaught stop signal, quitting...")
		srv.listener.Close()
	}()

	err := srv.httpServer.Serve(srv.listener)
	if err != nil && !strings.HasSuffix(err.Error(), "use of closed network connection") {
		return errors.AddContext(err, "api serve error")
	}
	return nil
}

// Close closes the Server's listener, causing Serve to return.
func (srv *Server) Close() error {
	return srv.listener.Close()
}
