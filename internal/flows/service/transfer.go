package service

import (
	"context"

	"github.com/smallbiznis/registry/internal/command"
	"github.com/smallbiznis/registry/internal/flows/domain"
	transferdomain "github.com/smallbiznis/registry/internal/transfer/domain"
)

func (s *Service) Transfer(ctx context.Context, cmd domain.Command) (*domain.Result, error) {
	return s.observe(ctx, cmd, func(ctx context.Context) (*domain.Result, error) {
		name, err := singleName(cmd)
		if err != nil {
			return nil, err
		}
		now := s.now(cmd)
		action := transferdomain.ActionInput{
			DomainName:  name,
			RegistrarID: cmd.RegistrarID,
			AuthInfo:    cmd.AuthInfo,
			Superuser:   cmd.Superuser,
			Now:         now,
		}

		var out *transferdomain.Outcome
		switch cmd.TransferOp {
		case domain.TransferRequest:
			out, err = s.transfers.Request(ctx, transferdomain.RequestInput{
				DomainName:  name,
				RegistrarID: cmd.RegistrarID,
				AuthInfo:    cmd.AuthInfo,
				Years:       cmd.Years,
				DeclaredFee: cmd.DeclaredFee,
				Token:       cmd.Token,
				Now:         now,
				Superuser:   cmd.Superuser,
				ZeroPeriod:  cmd.ZeroTransferPeriod,
				ZeroWindow:  cmd.ZeroTransferWindow,
			})
		case domain.TransferApprove:
			out, err = s.transfers.Approve(ctx, action)
		case domain.TransferReject:
			out, err = s.transfers.Reject(ctx, action)
		case domain.TransferCancel:
			out, err = s.transfers.Cancel(ctx, action)
		case domain.TransferQuery:
			out, err = s.transfers.Query(ctx, action)
		default:
			return nil, domain.ErrUnknownTransferOp
		}
		if err != nil {
			return nil, err
		}
		if cmd.TransferOp != domain.TransferQuery {
			s.metrics.RecordTransfer(ctx, out.Domain.Tld, string(out.Status))
		}
		return &domain.Result{Command: command.Transfer, Domain: domain.NewDomainView(out.Domain), Fees: out.Fees}, nil
	})
}
