package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"onebookreader/pkg/domain"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printBooks(w io.Writer, books []domain.Book) error {
	if len(books) == 0 {
		_, err := fmt.Fprintln(w, "No books.")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTITLE\tAUTHOR\tRATING\tREVIEWS")
	for _, b := range books {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%.2f\t%d\n", b.ID, b.Title, b.Author, b.AverageRating, b.ReviewCount)
	}
	return tw.Flush()
}

func printBook(w io.Writer, b domain.Book) {
	fmt.Fprintf(w, "%s by %s\n", b.Title, b.Author)
	if b.Genre != "" || b.PublishedYear != 0 {
		var parts []string
		if b.Genre != "" {
			parts = append(parts, b.Genre)
		}
		if b.PublishedYear != 0 {
			parts = append(parts, fmt.Sprint(b.PublishedYear))
		}
		fmt.Fprintln(w, strings.Join(parts, ", "))
	}
	fmt.Fprintf(w, "Rating: %.2f (%d reviews)\n", b.AverageRating, b.ReviewCount)
	if b.Description != "" {
		fmt.Fprintf(w, "\n%s\n", b.Description)
	}
}

func printReviews(w io.Writer, reviews []domain.Review) error {
	if len(reviews) == 0 {
		_, err := fmt.Fprintln(w, "No reviews yet.")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tRATING\tBY\tCONTENT")
	for _, r := range reviews {
		by := r.UserName
		if by == "" {
			by = r.UserID
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.ID, stars(r.Rating), by, oneLine(r.Content, 60))
	}
	return tw.Flush()
}

func printRecommendations(w io.Writer, recs []domain.Recommendation) {
	if len(recs) == 0 {
		fmt.Fprintln(w, "No recommendations yet. Review a few books first.")
		return
	}
	for i, rec := range recs {
		fmt.Fprintf(w, "%d. %s by %s\n", i+1, rec.Book.Title, rec.Book.Author)
		if rec.Reason != "" {
			fmt.Fprintf(w, "   %s\n", rec.Reason)
		}
	}
}

func stars(rating int) string {
	rating = min(max(rating, 0), 5)
	return strings.Repeat("*", rating) + strings.Repeat(".", 5-rating)
}

func oneLine(s string, limit int) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > limit {
		return string(r[:limit-3]) + "..."
	}
	return s
}
