package service

import (
	"context"
	"strconv"
	"strings"

	"github.com/Wafaqih/rekbernexo/internal/models"
)

// Command names accepted by Dispatch
const (
	CmdCreateDeal          = "create_deal"
	CmdJoin                = "join"
	CmdMarkTransferred     = "mark_transferred"
	CmdSubmitProof         = "submit_proof"
	CmdAdminVerify         = "admin_verify"
	CmdMarkShipped         = "mark_shipped"
	CmdConfirmReceipt      = "confirm_receipt"
	CmdOpenDispute         = "open_dispute"
	CmdAdminResolveDispute = "admin_resolve_dispute"
	CmdSubmitPayout        = "submit_payout"
	CmdAdminConfirmPayout  = "admin_confirm_payout"
	CmdCancel              = "cancel"
	CmdRequestCancel       = "request_cancel"
	CmdApproveCancel       = "approve_cancel"
	CmdRejectCancel        = "reject_cancel"
	CmdRateDeal            = "rate_deal"
)

// Dispatch runs a command received as a message. Parameters arrive as
// strings and are parsed here.
func (s *DealService) Dispatch(ctx context.Context, cmd *models.DealCommand) (*DealResult, error) {
	p := params(cmd.Params)
	actor := cmd.ActorID

	switch strings.ToLower(strings.TrimSpace(cmd.Command)) {
	case CmdCreateDeal:
		price, err := p.intParam("price")
		if err != nil {
			return nil, s.reject(ctx, CmdCreateDeal, "", actor, err)
		}
		return s.CreateDeal(ctx, &CreateDealRequest{
			CreatorID: actor,
			Role:      p["role"],
			Title:     p["title"],
			Price:     price,
			FeePayer:  p["fee_payer"],
		})
	case CmdJoin:
		return s.Join(ctx, cmd.DealID, actor, p["role"])
	case CmdMarkTransferred:
		return s.MarkTransferred(ctx, cmd.DealID, actor)
	case CmdSubmitProof:
		return s.SubmitProof(ctx, cmd.DealID, actor, p["proof_ref"])
	case CmdAdminVerify:
		approve, err := p.boolParam("approve")
		if err != nil {
			return nil, s.reject(ctx, CmdAdminVerify, cmd.DealID, actor, err)
		}
		return s.AdminVerify(ctx, cmd.DealID, actor, approve)
	case CmdMarkShipped:
		return s.MarkShipped(ctx, cmd.DealID, actor, ShipmentDetails{
			Courier:        p["courier"],
			TrackingNumber: p["tracking_number"],
		})
	case CmdConfirmReceipt:
		return s.ConfirmReceipt(ctx, cmd.DealID, actor)
	case CmdOpenDispute:
		return s.OpenDispute(ctx, cmd.DealID, actor, p["reason"])
	case CmdAdminResolveDispute:
		return s.AdminResolveDispute(ctx, cmd.DealID, actor, p["outcome"], p["note"])
	case CmdSubmitPayout:
		return s.SubmitPayout(ctx, cmd.DealID, actor, PayoutRequest{
			Method:          p["method"],
			BankName:        p["bank_name"],
			AccountNumber:   p["account_number"],
			AccountName:     p["account_name"],
			EwalletProvider: p["ewallet_provider"],
			EwalletNumber:   p["ewallet_number"],
			Note:            p["note"],
		})
	case CmdAdminConfirmPayout:
		return s.AdminConfirmPayout(ctx, cmd.DealID, actor)
	case CmdCancel:
		return s.Cancel(ctx, cmd.DealID, actor)
	case CmdRequestCancel:
		return s.RequestCancel(ctx, cmd.DealID, actor)
	case CmdApproveCancel:
		return s.ApproveCancel(ctx, cmd.DealID, actor)
	case CmdRejectCancel:
		return s.RejectCancel(ctx, cmd.DealID, actor)
	case CmdRateDeal:
		score, err := p.intParam("score")
		if err != nil {
			return nil, s.reject(ctx, CmdRateDeal, cmd.DealID, actor, err)
		}
		return s.RateDeal(ctx, cmd.DealID, actor, int(score), p["comment"])
	default:
		return nil, s.reject(ctx, "unknown", cmd.DealID, actor, validation("unknown command %q", cmd.Command))
	}
}

type params map[string]string

func (p params) intParam(key string) (int64, error) {
	v, err := strconv.ParseInt(strings.TrimSpace(p[key]), 10, 64)
	if err != nil {
		return 0, validation("%s must be a whole number", key)
	}
	return v, nil
}

func (p params) boolParam(key string) (bool, error) {
	v, err := strconv.ParseBool(strings.TrimSpace(p[key]))
	if err != nil {
		return false, validation("%s must be true or false", key)
	}
	return v, nil
}
