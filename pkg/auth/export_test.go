package auth

import "time"

// SetClock replaces the OTP service time source.
func (s *OTPService) SetClock(now func() time.Time) { s.now = now }

// SetClock replaces the flow token time source.
func (f *FlowTokens) SetClock(now func() time.Time) { f.now = now }

var GenerateOTPCode = generateOTPCode
