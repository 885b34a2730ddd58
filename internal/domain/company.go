package domain

// HiringSignals lists the roles a company is currently recruiting for.
type HiringSignals struct {
	Roles []string `json:"roles" yaml:"roles"`
}

// Company is a directory entry. Companies are shared by pointer once the
// catalog is loaded and must not be mutated.
type Company struct {
	ID            string         `json:"id" yaml:"id" validate:"required"`
	Name          string         `json:"name" yaml:"name" validate:"required"`
	Domain        string         `json:"domain" yaml:"domain" validate:"omitempty,fqdn"`
	Description   string         `json:"description" yaml:"description"`
	Industry      string         `json:"industry" yaml:"industry"`
	FundingStage  string         `json:"funding_stage" yaml:"funding_stage"`
	HiringSignals *HiringSignals `json:"hiring_signals" yaml:"hiring_signals"`
	LogoURL       *string        `json:"logo_url" yaml:"logo_url" validate:"omitempty,url"`
}

// HiringRoles returns the advertised roles, or nil when the company has no
// hiring signals.
func (c *Company) HiringRoles() []string {
	if c.HiringSignals == nil {
		return nil
	}
	return c.HiringSignals.Roles
}
