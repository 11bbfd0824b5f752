package service

import "errors"

var (
	ErrUnauthorized         = errors.New("unauthorized")
	ErrInsufficientCredits  = errors.New("add credits to create more projects")
	ErrNotFound             = errors.New("project not found")
	ErrVersionNotFound      = errors.New("version not found")
	ErrPlanNotFound         = errors.New("plan not found")
	ErrInvalidInput         = errors.New("invalid input")
	ErrRateLimited          = errors.New("too many generation requests, try again later")
	ErrGenerationInProgress = errors.New("a generation is already running for this project")
	ErrPromoInvalid         = errors.New("promo code invalid")
	ErrPromoAlreadyRedeemed = errors.New("promo code already redeemed")
	ErrPromoExhausted       = errors.New("promo code exhausted")
	ErrInvalidSignature     = errors.New("invalid webhook signature")
)
