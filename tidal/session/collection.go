package session

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"

	"github.com/goccy/go-json"
	"github.com/tidwall/gjson"

	"github.com/xeptore/tidaldl/tidal/types"
)

const (
	pageItemTypeTrack = "track"
	pageItemTypeVideo = "video"
)

type pageResponse struct {
	TotalNumberOfItems int `json:"totalNumberOfItems"`
	Items              []struct {
		Type string       `json:"type"`
		Item itemResponse `json:"item"`
	} `json:"items"`
}

// ResolveCollection fetches the title and every stream-ready item of an
// album, playlist or mix. Items carry the collection title and their
// one-based position in it.
func (s *Session) ResolveCollection(ctx context.Context, t types.MediaType, id string) (*types.Collection, error) {
	var (
		title         string
		itemsEndpoint string
		err           error
	)
	switch t { //nolint:exhaustive
	case types.MediaTypeAlbum:
		var album *types.Album
		album, err = s.album(ctx, id)
		if nil == err {
			title = album.Title
		}
		itemsEndpoint = "albums/" + id + "/items"
	case types.MediaTypePlaylist:
		title, err = s.playlistTitle(ctx, id)
		itemsEndpoint = "playlists/" + id + "/items"
	case types.MediaTypeMix:
		title, err = s.mixTitle(ctx, id)
		itemsEndpoint = "mixes/" + id + "/items"
	default:
		return nil, fmt.Errorf("media type %s is not a collection", t)
	}
	if nil != err {
		return nil, fmt.Errorf("failed to get %s info: %w", t, err)
	}

	items, err := s.pagedItems(ctx, itemsEndpoint)
	if nil != err {
		return nil, fmt.Errorf("failed to get %s items: %w", t, err)
	}

	for i := range items {
		if err := s.complete(ctx, &items[i]); nil != err {
			return nil, err
		}
		items[i].ListName = title
		items[i].ListPosition = i + 1
	}

	return &types.Collection{
		Type:  t,
		ID:    id,
		Title: title,
		Items: items,
	}, nil
}

func (s *Session) playlistTitle(ctx context.Context, id string) (string, error) {
	respBytes, err := s.get(ctx, "playlists/"+id, nil)
	if nil != err {
		return "", err
	}

	var respBody struct {
		Title string `json:"title"`
	}
	if err := json.Unmarshal(respBytes, &respBody); nil != err {
		return "", fmt.Errorf("failed to decode playlist info response: %v", err)
	}

	return respBody.Title, nil
}

func (s *Session) mixTitle(ctx context.Context, id string) (string, error) {
	params := make(url.Values, 3)
	params.Add("mixId", id)
	params.Add("locale", "en_US")
	params.Add("deviceType", "BROWSER")

	respBytes, err := s.get(ctx, "pages/mix", params)
	if nil != err {
		return "", err
	}

	if !gjson.ValidBytes(respBytes) {
		return "", errors.New("invalid mix info response json")
	}

	switch titleKey := gjson.GetBytes(respBytes, "title"); titleKey.Type { //nolint:exhaustive
	case gjson.String:
		return titleKey.Str, nil
	default:
		return "", errors.New("unexpected mix info response: missing title")
	}
}

func (s *Session) pagedItems(ctx context.Context, endpoint string) ([]types.Media, error) {
	var items []types.Media
	for page := 0; ; page++ {
		pageItems, rem, err := s.itemsPage(ctx, endpoint, page)
		if nil != err {
			return nil, fmt.Errorf("failed to get items page %d: %w", page, err)
		}
		items = append(items, pageItems...)

		if rem <= 0 {
			break
		}
	}

	return items, nil
}

// itemsPage returns the usable items of page and the number of items left
// after it.
func (s *Session) itemsPage(ctx context.Context, endpoint string, page int) ([]types.Media, int, error) {
	params := make(url.Values, 3)
	params.Add("limit", strconv.Itoa(pageSize))
	params.Add("offset", strconv.Itoa(page*pageSize))

	respBytes, err := s.get(ctx, endpoint, params)
	if nil != err {
		return nil, 0, err
	}

	var respBody pageResponse
	if err := json.Unmarshal(respBytes, &respBody); nil != err {
		return nil, 0, fmt.Errorf("failed to decode items page response: %v", err)
	}

	thisPageItemsCount := len(respBody.Items)
	if thisPageItemsCount == 0 {
		return nil, 0, nil
	}

	items := make([]types.Media, 0, thisPageItemsCount)
	for _, v := range respBody.Items {
		if !v.Item.StreamReady {
			continue
		}

		switch v.Type {
		case pageItemTypeTrack:
			items = append(items, v.Item.toMedia(types.MediaTypeTrack))
		case pageItemTypeVideo:
			items = append(items, v.Item.toMedia(types.MediaTypeVideo))
		default:
			s.logger.Debug().Str("item_type", v.Type).Int("item_id", v.Item.ID).Msg("Skipping unsupported collection item")
		}
	}

	return items, respBody.TotalNumberOfItems - (thisPageItemsCount + page*pageSize), nil
}
