package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"moff.io/use-wallet/internal/config"
	"moff.io/use-wallet/internal/connector"
	"moff.io/use-wallet/internal/contracts"
	"moff.io/use-wallet/internal/host"
	"moff.io/use-wallet/internal/metrics"
	"moff.io/use-wallet/internal/wallet"
	"moff.io/use-wallet/internal/walletconnect"
	"moff.io/use-wallet/pkg/errors"
	"moff.io/use-wallet/pkg/log"
	"moff.io/use-wallet/pkg/log/middleware"
)

// Business codes of error responses.
const (
	codeBadRequest   = 4000
	codeUserRejected = connector.CodeUserRejected
	codeNotFound     = 4004
	codeNotActive    = 4009
	codeActivation   = 4022
	codeInternal     = 5000
	codeContractCall = 5020
)

// activateTimeout leaves the user time to approve in the wallet or scan a pairing code.
const activateTimeout = 5 * time.Minute

const shutdownTimeout = 5 * time.Second

// Pairing exposes the pairing uri of the relay connector.
type Pairing interface {
	PairingURI() (string, bool)
	PairingQRCode(size int) ([]byte, error)
}

type Server struct {
	addr    string
	session *wallet.Session
	facades *wallet.Facades
	metrics *metrics.WalletMetrics
	pairing Pairing
	engine  *gin.Engine

	mu  sync.Mutex
	srv *http.Server
}

// NewServer wires the routes. pairing may be nil when no relay connector is registered.
func NewServer(addr string, session *wallet.Session, facades *wallet.Facades, m *metrics.WalletMetrics, pairing Pairing) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(middleware.RecoveredHTTPLog())

	s := &Server{addr: addr, session: session, facades: facades, metrics: m, pairing: pairing, engine: router}
	api := router.Group("/api", middleware.TimeoutHTTP())
	api.GET("/connectors", s.listConnectors)
	api.GET("/wallet", s.getWallet)
	api.POST("/wallet/deactivate", s.deactivate)
	api.POST("/wallet/sign", s.sign)
	api.GET("/wallet/pairing", s.pairingURI)
	api.GET("/wallet/pairing.png", s.pairingQRCode)

	weth := api.Group("/contracts/weth")
	weth.GET("/balance", s.wethBalance)
	weth.GET("/allowance", s.wethAllowance)
	weth.POST("/approve", s.wethApprove)
	weth.POST("/deposit", s.wethDeposit)
	weth.POST("/withdraw", s.wethWithdraw)
	api.GET("/contracts/greeter", s.getGreeting)
	api.POST("/contracts/greeter", s.setGreeting)

	router.POST("/api/wallet/activate", middleware.TimeoutHTTP(activateTimeout), s.activate)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(m.Registry(), promhttp.HandlerOpts{})))
	return s
}

func (s *Server) Handler() http.Handler { return s.engine }

// Apply takes the listen address from conf when one is set.
func (s *Server) Apply(conf *config.Configuration) {
	if conf.HTTPAddress != "" {
		s.addr = conf.HTTPAddress
	}
}

// Start serves in the background until Stop.
func (s *Server) Start(context.Context) {
	srv := &http.Server{Addr: s.addr, Handler: s.engine}
	s.mu.Lock()
	s.srv = srv
	s.mu.Unlock()
	go func() {
		log.Infof("HTTP server listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error(errors.WrapAndReport(err, "http server"))
		}
	}()
}

// Stop waits up to shutdownTimeout for in-flight requests, then closes the listener.
func (s *Server) Stop() {
	s.mu.Lock()
	srv := s.srv
	s.srv = nil
	s.mu.Unlock()
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warnf("http server shutdown: %v", err)
	}
}

func fail(ctx *gin.Context, status, code int, err error) {
	ctx.JSON(status, gin.H{"code": code, "msg": err.Error()})
}

func (s *Server) listConnectors(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, s.session.Registry().List())
}

func (s *Server) getWallet(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, s.session.Snapshot())
}

type activateRequest struct {
	Connector string `json:"connector" binding:"required"`
	ChainID   uint64 `json:"chainId"`
}

func (s *Server) activate(ctx *gin.Context) {
	var req activateRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		fail(ctx, http.StatusBadRequest, codeBadRequest, err)
		return
	}
	id, err := connector.ParseID(req.Connector)
	if err != nil {
		fail(ctx, http.StatusBadRequest, codeBadRequest, err)
		return
	}
	activateCtx := host.WithUserAgent(ctx.Request.Context(), ctx.GetHeader("User-Agent"))
	err = s.session.Activate(activateCtx, id, req.ChainID)
	switch {
	case err == nil:
		ctx.JSON(http.StatusOK, s.session.Snapshot())
	case errors.Is(err, wallet.ErrSuperseded):
		fail(ctx, http.StatusConflict, codeActivation, err)
	case connector.IsUserRejected(err):
		ctx.JSON(http.StatusConflict, s.activationFailure(codeUserRejected, err))
	default:
		ctx.JSON(http.StatusUnprocessableEntity, s.activationFailure(codeActivation, err))
	}
}

func (s *Server) activationFailure(code int, err error) gin.H {
	body := gin.H{"code": code, "msg": err.Error(), "wallet": s.session.Snapshot()}
	if url, ok := connector.RedirectURL(err); ok {
		body["redirect"] = url
	}
	return body
}

func (s *Server) deactivate(ctx *gin.Context) {
	s.session.Deactivate(ctx.Request.Context())
	ctx.JSON(http.StatusOK, s.session.Snapshot())
}

type signRequest struct {
	Message string `json:"message" binding:"required"`
}

func (s *Server) sign(ctx *gin.Context) {
	var req signRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		fail(ctx, http.StatusBadRequest, codeBadRequest, err)
		return
	}
	sig, err := s.session.Sign(ctx.Request.Context(), []byte(req.Message))
	switch {
	case err == nil:
		body := gin.H{"signature": sig}
		if account, ok := s.signedByAccount(); ok {
			body["verified"] = contracts.VerifySignature(account, sig, []byte(req.Message))
		}
		ctx.JSON(http.StatusOK, body)
	case errors.Is(err, connector.ErrNotActive):
		fail(ctx, http.StatusBadRequest, codeNotActive, err)
	case errors.Is(err, connector.ErrUserRejected):
		fail(ctx, http.StatusConflict, codeUserRejected, err)
	default:
		fail(ctx, http.StatusBadGateway, codeInternal, err)
	}
}

// signedByAccount returns the account of a session whose signatures come from a
// personal_sign request. Connectors with their own signer may produce contract
// signatures that do not recover to the account.
func (s *Server) signedByAccount() (common.Address, bool) {
	id, _, account, ok := s.session.Current()
	if !ok {
		return common.Address{}, false
	}
	entry, found := s.session.Registry().Get(id)
	return account, found && entry.Signer == nil
}

func (s *Server) pairingURI(ctx *gin.Context) {
	if s.pairing == nil {
		fail(ctx, http.StatusNotFound, codeNotFound, errors.New("no relay connector"))
		return
	}
	uri, ok := s.pairing.PairingURI()
	if !ok {
		fail(ctx, http.StatusNotFound, codeNotFound, errors.New("no pairing in progress"))
		return
	}
	p, err := walletconnect.ParseURI(uri)
	if err != nil {
		fail(ctx, http.StatusInternalServerError, codeInternal, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"uri": uri, "topic": p.Topic, "version": p.Version, "bridge": p.Bridge})
}

func (s *Server) pairingQRCode(ctx *gin.Context) {
	if s.pairing == nil {
		fail(ctx, http.StatusNotFound, codeNotFound, errors.New("no relay connector"))
		return
	}
	png, err := s.pairing.PairingQRCode(0)
	if err != nil {
		fail(ctx, http.StatusNotFound, codeNotFound, err)
		return
	}
	ctx.Data(http.StatusOK, "image/png", png)
}

// facade returns the contract facade or answers the request when there is none.
func (s *Server) facade(ctx *gin.Context) (*contracts.Facade, bool) {
	f, err := s.facades.Current()
	if err != nil {
		fail(ctx, http.StatusBadRequest, codeNotActive, err)
		return nil, false
	}
	return f, true
}

func contractFailed(ctx *gin.Context, err error) {
	if connector.IsUserRejected(err) {
		fail(ctx, http.StatusConflict, codeUserRejected, err)
		return
	}
	fail(ctx, http.StatusBadGateway, codeContractCall, err)
}

func addressParam(ctx *gin.Context, name string, fallback common.Address) (common.Address, bool) {
	v := ctx.Query(name)
	if v == "" {
		return fallback, true
	}
	if !common.IsHexAddress(v) {
		fail(ctx, http.StatusBadRequest, codeBadRequest, errors.Errorf("%s is not an address", name))
		return common.Address{}, false
	}
	return common.HexToAddress(v), true
}

func (s *Server) wethBalance(ctx *gin.Context) {
	f, ok := s.facade(ctx)
	if !ok {
		return
	}
	owner, ok := addressParam(ctx, "address", f.Account())
	if !ok {
		return
	}
	balance, err := f.TokenBalance(ctx.Request.Context(), owner)
	if err != nil {
		contractFailed(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"address": owner, "balance": balance})
}

func (s *Server) wethAllowance(ctx *gin.Context) {
	f, ok := s.facade(ctx)
	if !ok {
		return
	}
	owner, ok := addressParam(ctx, "owner", f.Account())
	if !ok {
		return
	}
	spender, ok := addressParam(ctx, "spender", common.Address{})
	if !ok {
		return
	}
	allowance, err := f.Allowance(ctx.Request.Context(), owner, spender)
	if err != nil {
		contractFailed(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"owner": owner, "spender": spender, "allowance": allowance})
}

type amountRequest struct {
	Spender string          `json:"spender"`
	Amount  decimal.Decimal `json:"amount"`
}

func bindAmount(ctx *gin.Context) (*amountRequest, bool) {
	var req amountRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		fail(ctx, http.StatusBadRequest, codeBadRequest, err)
		return nil, false
	}
	if !req.Amount.IsPositive() {
		fail(ctx, http.StatusBadRequest, codeBadRequest, errors.New("amount must be positive"))
		return nil, false
	}
	return &req, true
}

func (s *Server) wethApprove(ctx *gin.Context) {
	req, ok := bindAmount(ctx)
	if !ok {
		return
	}
	if !common.IsHexAddress(req.Spender) {
		fail(ctx, http.StatusBadRequest, codeBadRequest, errors.New("spender is not an address"))
		return
	}
	f, ok := s.facade(ctx)
	if !ok {
		return
	}
	s.respondReceipt(ctx, func(c context.Context) (*contracts.Receipt, error) {
		return f.Approve(c, common.HexToAddress(req.Spender), req.Amount)
	})
}

func (s *Server) wethDeposit(ctx *gin.Context) {
	req, ok := bindAmount(ctx)
	if !ok {
		return
	}
	f, ok := s.facade(ctx)
	if !ok {
		return
	}
	s.respondReceipt(ctx, func(c context.Context) (*contracts.Receipt, error) {
		return f.Deposit(c, req.Amount)
	})
}

func (s *Server) wethWithdraw(ctx *gin.Context) {
	req, ok := bindAmount(ctx)
	if !ok {
		return
	}
	f, ok := s.facade(ctx)
	if !ok {
		return
	}
	s.respondReceipt(ctx, func(c context.Context) (*contracts.Receipt, error) {
		return f.Withdraw(c, req.Amount)
	})
}

func (s *Server) getGreeting(ctx *gin.Context) {
	f, ok := s.facade(ctx)
	if !ok {
		return
	}
	greeting, err := f.Greeting(ctx.Request.Context())
	if err != nil {
		contractFailed(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"greeting": greeting})
}

type greetingRequest struct {
	Greeting string `json:"greeting" binding:"required"`
}

func (s *Server) setGreeting(ctx *gin.Context) {
	var req greetingRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		fail(ctx, http.StatusBadRequest, codeBadRequest, err)
		return
	}
	f, ok := s.facade(ctx)
	if !ok {
		return
	}
	s.respondReceipt(ctx, func(c context.Context) (*contracts.Receipt, error) {
		return f.SetGreeting(c, req.Greeting)
	})
}

func (s *Server) respondReceipt(ctx *gin.Context, send func(context.Context) (*contracts.Receipt, error)) {
	receipt, err := send(ctx.Request.Context())
	if err != nil {
		if receipt != nil {
			ctx.JSON(http.StatusBadGateway, gin.H{"code": codeContractCall, "msg": err.Error(), "receipt": receipt})
			return
		}
		contractFailed(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"receipt": receipt})
}
