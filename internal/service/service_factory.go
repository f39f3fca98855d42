package service

import (
	"go.uber.org/zap"

	"otp-service/internal/repository"
)

// ServiceFactory creates and manages service instances
type ServiceFactory struct {
	store  repository.OTPStore
	logger *zap.Logger

	otpService *OTPService
	reaper     *Reaper
}

// NewServiceFactory creates a new service factory
func NewServiceFactory(store repository.OTPStore, logger *zap.Logger) *ServiceFactory {
	return &ServiceFactory{
		store:  store,
		logger: logger,
	}
}

// OTPService returns the OTP service instance (singleton)
func (f *ServiceFactory) OTPService() *OTPService {
	if f.otpService == nil {
		f.otpService = NewOTPService(f.store, f.logger)
	}
	return f.otpService
}

// Reaper returns the reaper instance (singleton)
func (f *ServiceFactory) Reaper() *Reaper {
	if f.reaper == nil {
		f.reaper = NewReaper(f.store, f.logger)
	}
	return f.reaper
}
