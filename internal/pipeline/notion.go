// =============================================================================
// notion.go - Notionへのクイズ保存（任意）
// =============================================================================
//
// 永続化したクイズの各設問を、Notionデータベースの1ページとして保存します。
// NOTION_TOKEN と NOTION_DATABASE_ID が両方設定されている場合のみ有効。
//
// 【同じ日の再保存】
//   Day が同じページが既にあれば何もしない（1日1セット）。
//   SQLite アーカイブは同じ日を上書きするが、Notion は最初のセットを残す。
//
// 【データベースのプロパティ】
//   Question (title) / Source (url) / Answer (select) / Correct (rich text)
//   Options (rich text) / Day (select) / Index (number)
//
// =============================================================================
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jomei/notionapi"

	"news-quiz/internal/logger"
)

// Archiver receives every quiz that a refresh cycle persisted.
type Archiver interface {
	Archive(ctx context.Context, q *Quiz) error
}

// NotionArchiver clips quiz questions into a Notion database.
type NotionArchiver struct {
	client *notionapi.Client
	dbID   notionapi.DatabaseID
}

// NewNotionArchiver returns an archiver for an existing database. databaseID
// may be empty when CreateDatabase will be called first.
func NewNotionArchiver(token, databaseID string) (*NotionArchiver, error) {
	if token == "" {
		return nil, errors.New("NOTION_TOKEN is required")
	}
	return &NotionArchiver{
		client: notionapi.NewClient(notionapi.Token(token)),
		dbID:   notionapi.DatabaseID(databaseID),
	}, nil
}

// DatabaseID returns the target database, set by the constructor or CreateDatabase.
func (na *NotionArchiver) DatabaseID() string { return string(na.dbID) }

// CreateDatabase creates the quiz database under a parent page.
func (na *NotionArchiver) CreateDatabase(ctx context.Context, pageID string) error {
	if pageID == "" {
		return errors.New("parent page ID is required to create a database")
	}

	letterOptions := make([]notionapi.Option, 0, len(Letters))
	for _, l := range Letters {
		letterOptions = append(letterOptions, notionapi.Option{Name: l})
	}

	db, err := na.client.Database.Create(ctx, &notionapi.DatabaseCreateRequest{
		Parent: notionapi.Parent{
			Type:   notionapi.ParentTypePageID,
			PageID: notionapi.PageID(pageID),
		},
		Title: []notionapi.RichText{
			{Text: &notionapi.Text{Content: "Daily News Quiz"}},
		},
		Properties: notionapi.PropertyConfigs{
			"Question": notionapi.TitlePropertyConfig{Type: notionapi.PropertyConfigTypeTitle},
			"Source":   notionapi.URLPropertyConfig{Type: notionapi.PropertyConfigTypeURL},
			"Answer": notionapi.SelectPropertyConfig{
				Type:   notionapi.PropertyConfigTypeSelect,
				Select: notionapi.Select{Options: letterOptions},
			},
			"Correct": notionapi.RichTextPropertyConfig{Type: notionapi.PropertyConfigTypeRichText},
			"Options": notionapi.RichTextPropertyConfig{Type: notionapi.PropertyConfigTypeRichText},
			"Day":     notionapi.SelectPropertyConfig{Type: notionapi.PropertyConfigTypeSelect},
			"Index": notionapi.NumberPropertyConfig{
				Type:   notionapi.PropertyConfigTypeNumber,
				Number: notionapi.NumberFormat{Format: notionapi.FormatNumber},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create Notion database: %w", err)
	}
	na.dbID = notionapi.DatabaseID(db.ID)
	return nil
}

// Archive implements Archiver. A day that already has pages is skipped; otherwise
// it stops at the first failed page.
func (na *NotionArchiver) Archive(ctx context.Context, q *Quiz) error {
	if na.dbID == "" {
		return errors.New("notion database ID not set")
	}
	day := q.Day()

	archived, err := na.hasDay(ctx, day)
	if err != nil {
		return err
	}
	if archived {
		logger.Info("notion already has this day, skipping", "day", day)
		return nil
	}
	for i, item := range q.Questions {
		_, err := na.client.Page.Create(ctx, &notionapi.PageCreateRequest{
			Parent: notionapi.Parent{
				Type:       notionapi.ParentTypeDatabaseID,
				DatabaseID: na.dbID,
			},
			Properties: questionProperties(day, i+1, item),
		})
		if err != nil {
			return fmt.Errorf("clip question %d of %s: %w", i+1, day, err)
		}
	}
	return nil
}

// hasDay reports whether any page is filed under day.
func (na *NotionArchiver) hasDay(ctx context.Context, day string) (bool, error) {
	resp, err := na.client.Database.Query(ctx, na.dbID, &notionapi.DatabaseQueryRequest{
		Filter: notionapi.PropertyFilter{
			Property: "Day",
			Select:   &notionapi.SelectFilterCondition{Equals: day},
		},
		PageSize: 1,
	})
	if err != nil {
		return false, fmt.Errorf("query notion pages for %s: %w", day, err)
	}
	return len(resp.Results) > 0, nil
}

// questionProperties maps one QuizItem onto the database columns.
func questionProperties(day string, index int, item QuizItem) notionapi.Properties {
	opts := item.Options()
	lines := make([]string, len(opts))
	for i, o := range opts {
		lines[i] = Letters[i] + ". " + o
	}

	props := notionapi.Properties{
		"Question": notionapi.TitleProperty{
			Type:  notionapi.PropertyTypeTitle,
			Title: richText(item.Question),
		},
		"Answer": notionapi.SelectProperty{
			Type:   notionapi.PropertyTypeSelect,
			Select: notionapi.Option{Name: item.Answer},
		},
		"Correct": notionapi.RichTextProperty{
			Type:     notionapi.PropertyTypeRichText,
			RichText: richText(item.CorrectText()),
		},
		"Options": notionapi.RichTextProperty{
			Type:     notionapi.PropertyTypeRichText,
			RichText: richText(strings.Join(lines, "\n")),
		},
		"Day": notionapi.SelectProperty{
			Type:   notionapi.PropertyTypeSelect,
			Select: notionapi.Option{Name: day},
		},
		"Index": notionapi.NumberProperty{
			Type:   notionapi.PropertyTypeNumber,
			Number: float64(index),
		},
	}
	if item.Source != "" {
		props["Source"] = notionapi.URLProperty{
			Type: notionapi.PropertyTypeURL,
			URL:  item.Source,
		}
	}
	return props
}

func richText(s string) []notionapi.RichText {
	return []notionapi.RichText{
		{Text: &notionapi.Text{Content: truncateString(s, 2000)}}, // Notion limit
	}
}
