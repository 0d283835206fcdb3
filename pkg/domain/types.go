package domain

import "time"

type UserRole string

const (
	RoleUser  UserRole = "user"
	RoleAdmin UserRole = "admin"
)

const (
	MinRating = 1
	MaxRating = 5
)

type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Role      UserRole  `json:"role,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

type Book struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	Author        string    `json:"author"`
	Description   string    `json:"description,omitempty"`
	Genre         string    `json:"genre,omitempty"`
	PublishedYear int       `json:"publishedYear,omitempty"`
	CoverImageURL string    `json:"coverImageUrl,omitempty"`
	AverageRating float64   `json:"averageRating"`
	ReviewCount   int       `json:"reviewCount"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// BookPage is one page of the paginated books list.
type BookPage struct {
	Books []Book `json:"books"`
	Page  int    `json:"page"`
	Limit int    `json:"limit"`
	Total int    `json:"total"`
}

type Review struct {
	ID        string    `json:"id"`
	BookID    string    `json:"bookId"`
	UserID    string    `json:"userId"`
	UserName  string    `json:"userName,omitempty"`
	Rating    int       `json:"rating"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ReviewInput is the payload of a new review.
type ReviewInput struct {
	BookID  string `json:"bookId"`
	Rating  int    `json:"rating"`
	Content string `json:"content"`
}

// ReviewPatch carries the fields of a review update; nil fields are left unchanged.
type ReviewPatch struct {
	Rating  *int    `json:"rating,omitempty"`
	Content *string `json:"content,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p ReviewPatch) Empty() bool {
	return p.Rating == nil && p.Content == nil
}

type Recommendation struct {
	Book   Book    `json:"book"`
	Reason string  `json:"reason"`
	Score  float64 `json:"score,omitempty"`
}

type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type Profile struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AuthResult is returned by login and registration.
type AuthResult struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}

// ValidRating reports whether r is within the accepted star range.
func ValidRating(r int) bool {
	return r >= MinRating && r <= MaxRating
}
