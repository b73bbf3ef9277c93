package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/registry/internal/authorization"
	billingdomain "github.com/smallbiznis/registry/internal/billing/domain"
	"github.com/smallbiznis/registry/internal/command"
	flowsdomain "github.com/smallbiznis/registry/internal/flows/domain"
	"github.com/smallbiznis/registry/internal/money"
	"go.uber.org/zap"
)

// domainCommandRequest is the JSON body shared by every domain command.
// Fields a command does not use are ignored.
type domainCommandRequest struct {
	Name              string       `json:"name"`
	Names             []string     `json:"names"`
	Years             int          `json:"years"`
	Fee               *money.Money `json:"fee"`
	AllocationToken   string       `json:"allocation_token"`
	AuthInfo          string       `json:"auth_info"`
	IncludeFees       bool         `json:"include_fees"`
	CurrentExpiration *time.Time   `json:"current_expiration"`
	Superuser         bool         `json:"superuser"`

	ZeroTransferWindow bool `json:"zero_transfer_window"`
	ZeroTransferPeriod bool `json:"zero_transfer_period"`

	RenewalPriceBehavior string       `json:"renewal_price_behavior"`
	RenewalPrice         *money.Money `json:"renewal_price"`
	Reason               string       `json:"reason"`
}

func (r domainCommandRequest) domainNames() []string {
	names := make([]string, 0, len(r.Names)+1)
	if name := strings.TrimSpace(r.Name); name != "" {
		names = append(names, name)
	}
	for _, name := range r.Names {
		if name = strings.TrimSpace(name); name != "" {
			names = append(names, name)
		}
	}
	return names
}

func (s *Server) CheckDomains(c *gin.Context) {
	s.executeDomainCommand(c, command.Check, authorization.ActionCheck, http.StatusOK)
}

func (s *Server) CreateDomain(c *gin.Context) {
	s.executeDomainCommand(c, command.Create, authorization.ActionCreate, http.StatusCreated)
}

func (s *Server) RenewDomain(c *gin.Context) {
	s.executeDomainCommand(c, command.Renew, authorization.ActionRenew, http.StatusOK)
}

func (s *Server) DeleteDomain(c *gin.Context) {
	s.executeDomainCommand(c, command.Delete, authorization.ActionDelete, http.StatusOK)
}

func (s *Server) RestoreDomain(c *gin.Context) {
	s.executeDomainCommand(c, command.Restore, authorization.ActionRestore, http.StatusOK)
}

func (s *Server) TransferDomain(c *gin.Context) {
	s.executeDomainCommand(c, command.Transfer, authorization.ActionTransfer, http.StatusOK)
}

func (s *Server) UpdateRecurrence(c *gin.Context) {
	s.executeDomainCommand(c, command.Update, authorization.ActionUpdate, http.StatusOK)
}

func (s *Server) executeDomainCommand(c *gin.Context, typ command.Type, action string, status int) {
	var req domainCommandRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
	}

	ctx := c.Request.Context()
	registrarID := registrarIDFrom(c)
	if err := s.authz.Authorize(ctx, registrarID, action); err != nil {
		AbortWithError(c, err)
		return
	}
	if req.Superuser {
		ok, err := s.authz.IsSuperuser(ctx, registrarID)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		if !ok {
			AbortWithError(c, flowsdomain.ErrSuperuserRequired)
			return
		}
	}

	cmd := flowsdomain.Command{
		Type:                 typ,
		DomainNames:          req.domainNames(),
		RegistrarID:          registrarID,
		Now:                  s.clock.Now(),
		Superuser:            req.Superuser,
		Years:                req.Years,
		DeclaredFee:          req.Fee,
		Token:                strings.TrimSpace(req.AllocationToken),
		AuthInfo:             req.AuthInfo,
		IncludeFees:          req.IncludeFees,
		CurrentExpiration:    req.CurrentExpiration,
		TransferOp:           flowsdomain.TransferOp(c.Param("op")),
		ZeroTransferWindow:   req.ZeroTransferWindow,
		ZeroTransferPeriod:   req.ZeroTransferPeriod,
		RenewalPriceBehavior: billingdomain.RenewalPriceBehavior(strings.ToUpper(strings.TrimSpace(req.RenewalPriceBehavior))),
		RenewalPrice:         req.RenewalPrice,
		Reason:               req.Reason,
	}

	res, err := s.flows.Execute(ctx, cmd)
	if err != nil {
		s.log.Debug("domain command rejected",
			zap.String("command", string(typ)),
			zap.String("registrar_id", registrarID),
			zap.Error(err),
		)
		AbortWithError(c, err)
		return
	}

	c.JSON(status, res)
}
