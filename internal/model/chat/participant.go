package chat

// Role is the viewer-facing role of an account on the booking platform.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleShop     Role = "shop"
	RoleAdmin    Role = "admin"
)

// Participant is an identity taking part in a conversation. It is owned by the
// identity subsystem and read-only here.
type Participant struct {
	ID        ID     `json:"id"`
	Name      string `json:"name"`
	Role      Role   `json:"role,omitempty"`
	Verified  *bool  `json:"is_verified,omitempty"`
	Avatar    string `json:"avatar,omitempty"`
	ShopName  string `json:"shop_name,omitempty"`
	ShopImage string `json:"shop_image,omitempty"`
}

// Identity is what a viewer sees of a participant.
type Identity struct {
	ID       ID     `json:"id"`
	Name     string `json:"name"`
	Image    string `json:"image,omitempty"`
	Verified bool   `json:"verified"`
}

// Display resolves the participant's display name and image for a viewer of
// the given role. Customers and admins see shops by their shop branding when
// it is set; everyone else sees the personal name and avatar.
func (p Participant) Display(viewer Role) Identity {
	identity := Identity{
		ID:    p.ID,
		Name:  p.Name,
		Image: p.Avatar,
	}
	if p.Verified != nil {
		identity.Verified = *p.Verified
	}
	if p.Role == RoleShop && viewer != RoleShop {
		if p.ShopName != "" {
			identity.Name = p.ShopName
		}
		if p.ShopImage != "" {
			identity.Image = p.ShopImage
		}
	}
	if identity.Name == "" {
		identity.Name = string(p.ID)
	}
	return identity
}

// Viewer is the signed-in identity every connection is scoped to.
type Viewer struct {
	ID   ID   `json:"id"`
	Role Role `json:"role"`
}
