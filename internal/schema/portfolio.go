package schema

import (
	"portfolio-query/internal/naming"
	"portfolio-query/internal/sqltype"
)

// Enum names used by the portfolio schema.
const (
	EnumRole            = "Role"
	EnumCategory        = "Category"
	EnumProjectStatus   = "ProjectStatus"
	EnumTransactionType = "TransactionType"
	EnumMessageStatus   = "MessageStatus"
)

// PortfolioEnums returns the enum domains of the portfolio schema.
func PortfolioEnums() []Enum {
	return []Enum{
		{Name: EnumRole, Values: []string{"ADMIN", "EDITOR", "VIEWER"}},
		{Name: EnumCategory, Values: []string{"WEB_DEVELOPMENT", "MOBILE_DEVELOPMENT", "UI_UX_DESIGN", "ECOMMERCE", "BRANDING", "OTHER"}},
		{Name: EnumProjectStatus, Values: []string{"IN_DEVELOPMENT", "COMPLETED", "MAINTENANCE", "PAUSED"}},
		{Name: EnumTransactionType, Values: []string{"INCOME", "EXPENSE"}},
		{Name: EnumMessageStatus, Values: []string{"PENDING", "READ", "REPLIED", "ARCHIVED"}},
	}
}

// PortfolioModels returns the models of the agency/portfolio schema.
func PortfolioModels() []Model {
	return []Model{
		{
			Name: "User",
			Fields: []Field{
				idField(),
				optional(text("name")),
				text("email"),
				optional(timestamp("emailVerified")),
				optional(text("image")),
				optional(text("password")),
				withDefault(enum("role", EnumRole), "VIEWER"),
				createdAt(),
				updatedAt(),
			},
			Relations: []Relation{
				hasMany("accounts", "Account", "userId", "user"),
				hasMany("sessions", "Session", "userId", "user"),
			},
			UniqueKeys: []UniqueKey{NewUniqueKey("email")},
			PrimaryKey: []string{"id"},
		},
		{
			Name: "Account",
			Fields: []Field{
				idField(),
				text("userId"),
				text("type"),
				text("provider"),
				text("providerAccountId"),
				optional(text("refresh_token")),
				optional(text("access_token")),
				optional(integer("expires_at")),
				optional(text("token_type")),
				optional(text("scope")),
				optional(text("id_token")),
				optional(text("session_state")),
			},
			Relations: []Relation{
				belongsTo("user", "User", "userId", "accounts", Cascade),
			},
			UniqueKeys: []UniqueKey{NewUniqueKey("provider", "providerAccountId")},
			PrimaryKey: []string{"id"},
		},
		{
			Name: "Session",
			Fields: []Field{
				idField(),
				text("sessionToken"),
				text("userId"),
				timestamp("expires"),
			},
			Relations: []Relation{
				belongsTo("user", "User", "userId", "sessions", Cascade),
			},
			UniqueKeys: []UniqueKey{NewUniqueKey("sessionToken")},
			PrimaryKey: []string{"id"},
		},
		{
			Name: "VerificationToken",
			Fields: []Field{
				text("identifier"),
				text("token"),
				timestamp("expires"),
			},
			UniqueKeys: []UniqueKey{
				NewUniqueKey("token"),
				NewUniqueKey("identifier", "token"),
			},
		},
		{
			Name: "Client",
			Fields: []Field{
				idField(),
				text("name"),
				optional(text("email")),
				optional(text("phone")),
				optional(text("company")),
				optional(text("website")),
				optional(text("avatar")),
				optional(text("notes")),
				createdAt(),
				updatedAt(),
			},
			Relations: []Relation{
				hasMany("projects", "Project", "clientId", "client"),
				hasMany("transactions", "Transaction", "clientId", "client"),
				hasMany("testimonials", "Testimonial", "clientId", "client"),
			},
			PrimaryKey: []string{"id"},
		},
		{
			Name: "Project",
			Fields: []Field{
				idField(),
				text("title"),
				text("slug"),
				text("description"),
				optional(text("shortDesc")),
				enum("category", EnumCategory),
				withDefault(enum("status", EnumProjectStatus), "IN_DEVELOPMENT"),
				withDefault(boolean("featured"), false),
				optional(text("demoUrl")),
				optional(text("liveUrl")),
				optional(text("githubUrl")),
				withDefault(text("technologies"), "[]"),
				optional(text("clientId")),
				createdAt(),
				updatedAt(),
			},
			Relations: []Relation{
				optionalBelongsTo("client", "Client", "clientId", "projects"),
				hasMany("images", "ProjectImage", "projectId", "project"),
				hasMany("sections", "ProjectSection", "projectId", "project"),
				hasMany("transactions", "Transaction", "projectId", "project"),
			},
			UniqueKeys: []UniqueKey{NewUniqueKey("slug")},
			PrimaryKey: []string{"id"},
		},
		{
			Name: "ProjectImage",
			Fields: []Field{
				idField(),
				text("url"),
				optional(text("alt")),
				withDefault(integer("order"), int64(0)),
				text("projectId"),
				createdAt(),
			},
			Relations: []Relation{
				belongsTo("project", "Project", "projectId", "images", Cascade),
			},
			PrimaryKey: []string{"id"},
		},
		{
			Name: "ProjectSection",
			Fields: []Field{
				idField(),
				text("key"),
				text("title"),
				text("description"),
				withDefault(integer("order"), int64(0)),
				withDefault(text("images"), "[]"),
				text("projectId"),
				createdAt(),
				updatedAt(),
			},
			Relations: []Relation{
				belongsTo("project", "Project", "projectId", "sections", Cascade),
				hasMany("subsections", "ProjectSubsection", "sectionId", "section"),
			},
			PrimaryKey: []string{"id"},
		},
		{
			Name: "ProjectSubsection",
			Fields: []Field{
				idField(),
				text("key"),
				text("title"),
				text("description"),
				withDefault(text("images"), "[]"),
				withDefault(integer("order"), int64(0)),
				text("sectionId"),
				createdAt(),
				updatedAt(),
			},
			Relations: []Relation{
				belongsTo("section", "ProjectSection", "sectionId", "subsections", Cascade),
			},
			PrimaryKey: []string{"id"},
		},
		{
			Name: "Transaction",
			Fields: []Field{
				idField(),
				enum("type", EnumTransactionType),
				decimalField("amount"),
				text("description"),
				{Name: "date", Type: sqltype.TypeDateTime, Default: &Default{Kind: DefaultNow}},
				optional(text("category")),
				optional(text("projectId")),
				optional(text("clientId")),
				createdAt(),
				updatedAt(),
			},
			Relations: []Relation{
				optionalBelongsTo("project", "Project", "projectId", "transactions"),
				optionalBelongsTo("client", "Client", "clientId", "transactions"),
			},
			PrimaryKey: []string{"id"},
		},
		{
			Name: "Testimonial",
			Fields: []Field{
				idField(),
				text("content"),
				withDefault(integer("rating"), int64(5)),
				withDefault(boolean("featured"), false),
				text("clientId"),
				createdAt(),
				updatedAt(),
			},
			Relations: []Relation{
				belongsTo("client", "Client", "clientId", "testimonials", Cascade),
			},
			PrimaryKey: []string{"id"},
		},
		{
			Name: "ContactMessage",
			Fields: []Field{
				idField(),
				text("name"),
				text("email"),
				optional(text("phone")),
				optional(text("company")),
				text("message"),
				withDefault(enum("status", EnumMessageStatus), "PENDING"),
				createdAt(),
				updatedAt(),
			},
			PrimaryKey: []string{"id"},
		},
		{
			Name: "TeamMember",
			Fields: []Field{
				idField(),
				text("name"),
				text("role"),
				optional(text("bio")),
				optional(text("image")),
				withDefault(integer("order"), int64(0)),
				optional(text("linkedin")),
				optional(text("github")),
				optional(text("twitter")),
				optional(text("website")),
				withDefault(boolean("active"), true),
				createdAt(),
				updatedAt(),
			},
			PrimaryKey: []string{"id"},
		},
	}
}

// Portfolio builds the registry for the agency/portfolio schema.
func Portfolio(namer *naming.Namer) (*Registry, error) {
	return NewRegistry(PortfolioModels(), PortfolioEnums(), namer)
}

func idField() Field {
	return Field{Name: "id", Type: sqltype.TypeString, IsID: true, Default: &Default{Kind: DefaultUUID}}
}

func text(name string) Field {
	return Field{Name: name, Type: sqltype.TypeString}
}

func integer(name string) Field {
	return Field{Name: name, Type: sqltype.TypeInt}
}

func boolean(name string) Field {
	return Field{Name: name, Type: sqltype.TypeBoolean}
}

func timestamp(name string) Field {
	return Field{Name: name, Type: sqltype.TypeDateTime}
}

func decimalField(name string) Field {
	return Field{Name: name, Type: sqltype.TypeDecimal}
}

func enum(name, domain string) Field {
	return Field{Name: name, Type: sqltype.TypeEnum, Enum: domain}
}

func optional(f Field) Field {
	f.Optional = true
	return f
}

func withDefault(f Field, value any) Field {
	f.Default = &Default{Kind: DefaultLiteral, Value: value}
	return f
}

func createdAt() Field {
	return Field{Name: "createdAt", Type: sqltype.TypeDateTime, Default: &Default{Kind: DefaultNow}}
}

func updatedAt() Field {
	return Field{Name: "updatedAt", Type: sqltype.TypeDateTime, UpdatedAt: true}
}

func hasMany(name, target, foreignKey, inverse string) Relation {
	return Relation{
		Name:         name,
		Target:       target,
		Kind:         ToMany,
		LocalFields:  []string{"id"},
		RemoteFields: []string{foreignKey},
		Inverse:      inverse,
	}
}

func belongsTo(name, target, foreignKey, inverse string, onDelete ReferentialAction) Relation {
	return Relation{
		Name:         name,
		Target:       target,
		Kind:         ToOne,
		Owning:       true,
		LocalFields:  []string{foreignKey},
		RemoteFields: []string{"id"},
		OnDelete:     onDelete,
		Inverse:      inverse,
	}
}

func optionalBelongsTo(name, target, foreignKey, inverse string) Relation {
	rel := belongsTo(name, target, foreignKey, inverse, SetNull)
	rel.Optional = true
	return rel
}
